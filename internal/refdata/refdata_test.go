package refdata_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/refdata"
	"github.com/pbaille/govpulse/internal/refdata/refdatatest"
)

type flakyLoader struct {
	*refdata.Seed
	fail  atomic.Bool
	calls atomic.Int32
	delay time.Duration
}

func (l *flakyLoader) LoadSchemes(ctx context.Context) ([]domain.Scheme, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return l.Seed.LoadSchemes(ctx)
}

func TestSnapshotLookups(t *testing.T) {
	snap := refdatatest.Snapshot(t)

	exact := snap.ExactGeo("SONPUR")
	require.Len(t, exact, 2)
	assert.ElementsMatch(t, []string{"v-sonpur-takhatpur", "v-sonpur-tilda"}, []string{exact[0].ID, exact[1].ID})

	hindi := snap.ExactGeo("सोनपुर")
	assert.Len(t, hindi, 2)

	translit := snap.TransliteratedGeo("Kharoraa")
	require.Len(t, translit, 1)
	assert.Equal(t, "v-kharora", translit[0].ID)

	code, ok := snap.SchemeCode("प्रधानमंत्री आवास योजना")
	require.True(t, ok)
	assert.Equal(t, "PMAY", code)

	code, ok = snap.EventTypeCode("Baithak")
	require.True(t, ok)
	assert.Equal(t, "meeting", code)

	_, ok = snap.EventTypeCode("cricket match")
	assert.False(t, ok)

	e, ok := snap.Entry("u-raipur")
	require.True(t, ok)
	assert.True(t, e.IsUrban)
}

func TestSnapshotVersionIgnoresInputOrder(t *testing.T) {
	seed := refdatatest.Seed(t)
	a, err := refdata.NewSnapshot(seed.Schemes, seed.EventTypes, seed.Geography, time.Now())
	require.NoError(t, err)

	reversed := make([]domain.GeographyEntry, len(seed.Geography))
	for i, e := range seed.Geography {
		reversed[len(reversed)-1-i] = e
	}
	b, err := refdata.NewSnapshot(seed.Schemes, seed.EventTypes, reversed, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, a.Version, b.Version)

	seed.Schemes[0].Aliases = append(seed.Schemes[0].Aliases, "Awas")
	c, err := refdata.NewSnapshot(seed.Schemes, seed.EventTypes, seed.Geography, time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, a.Version, c.Version)
}

func TestSnapshotRejectsDuplicateIDs(t *testing.T) {
	seed := refdatatest.Seed(t)
	geo := append(seed.Geography, seed.Geography[0])
	_, err := refdata.NewSnapshot(seed.Schemes, seed.EventTypes, geo, time.Now())
	assert.Error(t, err)
}

func TestParseSeedRejectsBrokenHierarchy(t *testing.T) {
	_, err := refdata.ParseSeed([]byte(`
geography:
  - {id: u-x, kind: ulb, name: X, district: Y, is_urban: true}
`))
	require.NoError(t, err, "ulb entries default their ulb to their own name")

	_, err = refdata.ParseSeed([]byte(`
geography:
  - {id: v-y, kind: village, name: Y, district: Y}
`))
	assert.Error(t, err)
}

func TestCacheFirstFailureIsUnavailable(t *testing.T) {
	loader := &flakyLoader{Seed: refdatatest.Seed(t)}
	loader.fail.Store(true)
	cache := refdata.NewCache(loader, time.Minute, nil)

	_, err := cache.Snapshot(context.Background())
	require.ErrorIs(t, err, domain.ErrReferenceDataUnavailable)
	assert.Equal(t, domain.KindReferenceDataUnavailable, domain.KindOf(err))
	assert.Error(t, cache.LastError())
}

func TestCacheServesStaleSnapshotOnFailure(t *testing.T) {
	loader := &flakyLoader{Seed: refdatatest.Seed(t)}
	cache := refdata.NewCache(loader, time.Minute, nil)

	var results []string
	cache.OnResult = func(r string) { results = append(results, r) }

	first, err := cache.Snapshot(context.Background())
	require.NoError(t, err)

	loader.fail.Store(true)
	cache.Invalidate()

	second, err := cache.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, []string{"ok", "error"}, results)

	loader.fail.Store(false)
	cache.Invalidate()
	third, err := cache.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, first.Version, third.Version)
	assert.NoError(t, cache.LastError())
}

func TestCacheReusesFreshSnapshot(t *testing.T) {
	loader := &flakyLoader{Seed: refdatatest.Seed(t)}
	cache := refdata.NewCache(loader, time.Hour, nil)

	var refreshed int
	cache.OnRefresh = func(*refdata.Snapshot) { refreshed++ }

	for range 5 {
		_, err := cache.Snapshot(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), loader.calls.Load())
	assert.Equal(t, 1, refreshed)
}

func TestCacheSingleRefreshUnderConcurrency(t *testing.T) {
	loader := &flakyLoader{Seed: refdatatest.Seed(t), delay: 50 * time.Millisecond}
	cache := refdata.NewCache(loader, time.Hour, nil)

	var wg sync.WaitGroup
	snaps := make([]*refdata.Snapshot, 8)
	for i := range snaps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := cache.Snapshot(context.Background())
			assert.NoError(t, err)
			snaps[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), loader.calls.Load())
	for _, s := range snaps {
		assert.Same(t, snaps[0], s)
	}
}
