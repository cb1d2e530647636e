package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/refdata/refdatatest"
)

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Model() string { return "mock" }

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	args := m.Called(texts)
	return args.Get(0).([][]float64), args.Error(1)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 2}))
}

func TestHashEmbedderCrossScript(t *testing.T) {
	h := NewHash(128)
	vecs, err := h.EmbedBatch(context.Background(), []string{"बिलासपुर", "Bilaspur", "Bhilai"})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, CosineSimilarity(vecs[0], vecs[1]), 1e-9)
	assert.Less(t, CosineSimilarity(vecs[1], vecs[2]), 0.82)
	assert.Equal(t, "hash/128", h.Model())
}

func TestVoyageEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)
		w.Write([]byte(`{"data":[{"embedding":[0,1],"index":1},{"embedding":[1,0],"index":0}]}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_VOYAGE_KEY", "test-key")
	v, err := NewVoyage("TEST_VOYAGE_KEY", "")
	require.NoError(t, err)
	v.baseURL = srv.URL

	vecs, err := v.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
}

func TestVoyageMarksThrottlingRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	t.Setenv("TEST_VOYAGE_KEY", "k")
	v, err := NewVoyage("TEST_VOYAGE_KEY", "voyage-3-lite")
	require.NoError(t, err)
	v.baseURL = srv.URL

	_, err = v.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestNewVoyageRequiresKey(t *testing.T) {
	t.Setenv("TEST_VOYAGE_KEY", "")
	_, err := NewVoyage("TEST_VOYAGE_KEY", "")
	assert.Error(t, err)
}

func TestCachedEmbedderOnlyEmbedsMisses(t *testing.T) {
	inner := &mockEmbedder{}
	inner.On("EmbedBatch", []string{"a", "b"}).Return([][]float64{{1}, {2}}, nil).Once()
	inner.On("EmbedBatch", []string{"c"}).Return([][]float64{{3}}, nil).Once()

	cache := NewMemoryCache()
	c := NewCached(inner, cache, nil)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {2}}, vecs)

	vecs, err = c.EmbedBatch(context.Background(), []string{"b", "c", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{2}, {3}, {1}}, vecs)
	assert.Equal(t, 3, cache.Len())
	inner.AssertExpectations(t)
}

func TestCacheKeyIsModelScoped(t *testing.T) {
	assert.Equal(t, CacheKey("m", "x"), CacheKey("m", "x"))
	assert.NotEqual(t, CacheKey("m", "x"), CacheKey("n", "x"))
	assert.Contains(t, CacheKey("m", "x"), "govpulse:emb:m:")
}

func TestIndexSearch(t *testing.T) {
	snap := refdatatest.Snapshot(t)
	ix := NewIndex(NewHash(256))
	require.NoError(t, ix.Build(context.Background(), SnapshotItems(snap), snap.Version))

	assert.Equal(t, snap.Version, ix.Version())
	assert.Positive(t, ix.Len())

	hits, err := ix.Search(context.Background(), "गनियारी", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, KindGeo, hits[0].Kind)
	assert.Equal(t, "v-ganiyari", hits[0].Code)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	again, err := ix.Search(context.Background(), "गनियारी", 3)
	require.NoError(t, err)
	assert.Equal(t, hits, again)
}
