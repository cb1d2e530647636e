package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/embedding"
	"github.com/pbaille/govpulse/internal/refdata"
	"github.com/pbaille/govpulse/internal/refdata/refdatatest"
)

type staticSource struct {
	snap *refdata.Snapshot
	err  error
}

func (s staticSource) Snapshot(context.Context) (*refdata.Snapshot, error) {
	return s.snap, s.err
}

type fakeSearcher []embedding.Hit

func (f fakeSearcher) Search(context.Context, string, int) ([]embedding.Hit, error) {
	return f, nil
}

func newResolver(t *testing.T, searcher embedding.Searcher) *Resolver {
	t.Helper()
	return NewResolver(staticSource{snap: refdatatest.Snapshot(t)}, searcher, DefaultOptions, nil)
}

func assertHierarchyShape(t *testing.T, h domain.GeoHierarchy) {
	t.Helper()
	if h.IsUrban {
		assert.NotEmpty(t, h.ULB, h.EntryID)
		assert.Empty(t, h.GramPanchayat, h.EntryID)
		assert.Empty(t, h.Village, h.EntryID)
	} else {
		assert.NotEmpty(t, h.GramPanchayat, h.EntryID)
		assert.Empty(t, h.ULB, h.EntryID)
		assert.Nil(t, h.WardNo, h.EntryID)
	}
	assert.NotEmpty(t, h.Block, h.EntryID)
	assert.NotEmpty(t, h.District, h.EntryID)
}

func TestResolveUrbanWithWard(t *testing.T) {
	r := newResolver(t, nil)

	out := r.Resolve(context.Background(), "रायपुर", "रायपुर वार्ड 5 में कार्यक्रम")
	require.Len(t, out, 1)

	h := out[0]
	assert.Equal(t, "u-raipur", h.EntryID)
	assert.True(t, h.IsUrban)
	assert.Equal(t, "Raipur", h.ULB)
	require.NotNil(t, h.WardNo)
	assert.Equal(t, 5, *h.WardNo)
	assert.Equal(t, "Dharsiwa", h.Block)
	assert.Equal(t, "Raipur City West", h.Assembly)
	assert.Equal(t, 1.0, h.Confidence)
	assert.Equal(t, domain.MatchExact, h.MatchKind)
	assertHierarchyShape(t, h)
}

func TestResolveAmbiguousWithoutContext(t *testing.T) {
	r := newResolver(t, nil)

	out := r.Resolve(context.Background(), "Sonpur", "")
	require.Len(t, out, 2)
	for _, h := range out {
		assert.Equal(t, 0.5, h.Confidence)
		assertHierarchyShape(t, h)
	}
	assert.Equal(t, "v-sonpur-takhatpur", out[0].EntryID)
	assert.Equal(t, "v-sonpur-tilda", out[1].EntryID)

	best, ok := r.ResolveAmbiguous(context.Background(), "Sonpur", "")
	assert.False(t, ok)
	assert.Equal(t, "v-sonpur-takhatpur", best.EntryID)
}

func TestResolveUsesContext(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()

	tests := []struct {
		name, context, want string
	}{
		{"Sonpur", "Sonpur near Ganiyari", "v-sonpur-takhatpur"},
		{"सोनपुर", "सोनपुर में बैठक, तखतपुर ब्लॉक", "v-sonpur-takhatpur"},
		{"Sonpur", "Sonpur, Kharora", "v-sonpur-tilda"},
		{"Sonpur", "Tilda block visit to Sonpur", "v-sonpur-tilda"},
	}
	for _, tt := range tests {
		t.Run(tt.context, func(t *testing.T) {
			out := r.Resolve(ctx, tt.name, tt.context)
			require.Len(t, out, 2)
			assert.Equal(t, tt.want, out[0].EntryID)
			assert.Equal(t, 1.0, out[0].Confidence)
			assert.Equal(t, 0.5, out[1].Confidence)

			best, ok := r.ResolveAmbiguous(ctx, tt.name, tt.context)
			assert.True(t, ok)
			assert.Equal(t, tt.want, best.EntryID)
		})
	}
}

func TestResolveFuzzy(t *testing.T) {
	r := newResolver(t, nil)

	out := r.Resolve(context.Background(), "Kharaura", "")
	require.Len(t, out, 1)
	assert.Equal(t, "v-kharora", out[0].EntryID)
	assert.Equal(t, domain.MatchFuzzy, out[0].MatchKind)
	assert.InDelta(t, 2.0/3, out[0].Confidence, 1e-9)
	assertHierarchyShape(t, out[0])
}

func TestResolveVectorFallback(t *testing.T) {
	searcher := fakeSearcher{
		{Item: embedding.Item{Kind: embedding.KindGeo, Code: "v-mandhar", Text: "Mandhar"}, Score: 0.93},
		{Item: embedding.Item{Kind: embedding.KindGeo, Code: "v-kharora", Text: "Kharora"}, Score: 0.5},
		{Item: embedding.Item{Kind: embedding.KindScheme, Code: "PMAY", Text: "PMAY"}, Score: 0.99},
	}
	r := newResolver(t, searcher)

	out := r.Resolve(context.Background(), "Qqzx", "")
	require.Len(t, out, 1)
	assert.Equal(t, "v-mandhar", out[0].EntryID)
	assert.Equal(t, domain.MatchVector, out[0].MatchKind)
	assert.Equal(t, 0.93, out[0].Confidence)
}

func TestResolveSkipsAdministrativeUnits(t *testing.T) {
	r := newResolver(t, nil)

	// Takhatpur names a block and an assembly, never a village or ward
	assert.Empty(t, r.Resolve(context.Background(), "Takhatpur", ""))
}

func TestResolveUnknownAndUnavailable(t *testing.T) {
	r := newResolver(t, nil)
	var outcomes []string
	r.OnOutcome = func(o string) { outcomes = append(outcomes, o) }

	assert.Empty(t, r.Resolve(context.Background(), "Atlantis", ""))
	assert.Empty(t, r.Resolve(context.Background(), "  ", ""))
	assert.Equal(t, []string{"none"}, outcomes)

	down := NewResolver(staticSource{err: errors.New("db down")}, nil, DefaultOptions, nil)
	assert.Empty(t, down.Resolve(context.Background(), "Raipur", ""))
	_, ok := down.ResolveAmbiguous(context.Background(), "Raipur", "")
	assert.False(t, ok)
}

func TestResolveIsDeterministic(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()

	for _, name := range []string{"Sonpur", "Bilaspur", "सरकंडा", "Kharaura", "Ganiyari"} {
		first := r.Resolve(ctx, name, "ward 12 "+name)
		second := r.Resolve(ctx, name, "ward 12 "+name)
		assert.Equal(t, first, second, name)
		for _, h := range first {
			assertHierarchyShape(t, h)
		}
	}
}

func TestResolveWard(t *testing.T) {
	r := newResolver(t, nil)

	out := r.Resolve(context.Background(), "सरकंडा", "")
	require.Len(t, out, 1)
	h := out[0]
	assert.Equal(t, "w-bilaspur-12", h.EntryID)
	assert.Equal(t, "Sarkanda", h.Ward)
	assert.Equal(t, "Bilaspur", h.ULB)
	require.NotNil(t, h.WardNo)
	assert.Equal(t, 12, *h.WardNo)
}

func TestResolveWardBelongsToItsPlace(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()
	post := "रायपुर वार्ड 5 में बैठक, बिलासपुर में रैली"

	raipur := r.Resolve(ctx, "Raipur", post)
	require.Len(t, raipur, 1)
	require.NotNil(t, raipur[0].WardNo)
	assert.Equal(t, 5, *raipur[0].WardNo)

	bilaspur := r.Resolve(ctx, "Bilaspur", post)
	require.Len(t, bilaspur, 1)
	assert.Equal(t, "u-bilaspur", bilaspur[0].EntryID)
	assert.Nil(t, bilaspur[0].WardNo)

	// name absent from the text
	out := r.Resolve(ctx, "Bilaspur", "रायपुर वार्ड 5 में कार्यक्रम")
	require.Len(t, out, 1)
	assert.Nil(t, out[0].WardNo)

	out = r.Resolve(ctx, "Bhilai", "रायपुर वार्ड 5 में कार्यक्रम, Bhilai visit")
	require.Len(t, out, 1)
	assert.Equal(t, "u-bhilai", out[0].EntryID)
	assert.Nil(t, out[0].WardNo)
}

func TestResolveWardKeepsReferenceNumber(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()

	out := r.Resolve(ctx, "Sarkanda", "Sarkanda ward 5")
	require.Len(t, out, 1)
	assert.Equal(t, "w-bilaspur-12", out[0].EntryID)
	require.NotNil(t, out[0].WardNo)
	assert.Equal(t, 12, *out[0].WardNo)
	assert.Equal(t, 0.5, out[0].Confidence)

	out = r.Resolve(ctx, "Sarkanda", "Sarkanda ward 12")
	require.Len(t, out, 1)
	assert.Equal(t, 12, *out[0].WardNo)
	assert.Equal(t, 1.0, out[0].Confidence)
}
