package embedding

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pbaille/govpulse/internal/refdata"
)

// Item kinds held by the index
const (
	KindScheme    = "scheme"
	KindEventType = "event_type"
	KindGeo       = "geo"
)

// Item is one known entity spelling
type Item struct {
	Kind string
	Code string
	Text string
}

// Hit is a search result
type Hit struct {
	Item
	Score float64
}

// Searcher finds known entities similar to a text
type Searcher interface {
	Search(ctx context.Context, text string, topK int) ([]Hit, error)
}

const buildBatch = 64

// Index is an in-memory brute force vector index over known entities.
// Build swaps the whole index at once; searches see either generation.
type Index struct {
	embedder Embedder

	mu      sync.RWMutex
	items   []Item
	vectors [][]float64
	version string
}

func NewIndex(e Embedder) *Index {
	return &Index{embedder: e}
}

// SnapshotItems lists every scheme, event type and geography spelling
func SnapshotItems(s *refdata.Snapshot) []Item {
	var items []Item
	for _, a := range s.SchemeAliases() {
		items = append(items, Item{Kind: KindScheme, Code: a.Code, Text: a.Text})
	}
	for _, a := range s.EventTypeAliases() {
		items = append(items, Item{Kind: KindEventType, Code: a.Code, Text: a.Text})
	}
	for _, a := range s.GeoAliases() {
		items = append(items, Item{Kind: KindGeo, Code: a.Code, Text: a.Text})
	}
	return items
}

// Build embeds items and replaces the index contents
func (ix *Index) Build(ctx context.Context, items []Item, version string) error {
	vectors := make([][]float64, 0, len(items))
	for start := 0; start < len(items); start += buildBatch {
		end := min(start+buildBatch, len(items))
		texts := make([]string, 0, end-start)
		for _, it := range items[start:end] {
			texts = append(texts, it.Text)
		}
		batch, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed items %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}

	ix.mu.Lock()
	ix.items = append([]Item(nil), items...)
	ix.vectors = vectors
	ix.version = version
	ix.mu.Unlock()
	return nil
}

// Version is the snapshot version the index was built from
func (ix *Index) Version() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.version
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.items)
}

// Search returns the topK items most similar to text, best first
func (ix *Index) Search(ctx context.Context, text string, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	query, err := Embed(ctx, ix.embedder, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ix.mu.RLock()
	hits := make([]Hit, len(ix.items))
	for i, it := range ix.items {
		hits[i] = Hit{Item: it, Score: CosineSimilarity(query, ix.vectors[i])}
	}
	ix.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Kind != hits[j].Kind {
			return hits[i].Kind < hits[j].Kind
		}
		if hits[i].Code != hits[j].Code {
			return hits[i].Code < hits[j].Code
		}
		return hits[i].Text < hits[j].Text
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
