package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/pbaille/govpulse/internal/textnorm"
)

// Hash is a local embedder projecting character trigrams of the phonetic
// key into a fixed number of buckets. It needs no network and gives
// identical vectors for Hindi and romanized spellings that share a key.
type Hash struct {
	dims int
}

// NewHash creates a hashed n-gram embedder with the given dimensionality
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = 256
	}
	return &Hash{dims: dims}
}

func (h *Hash) Model() string { return fmt.Sprintf("hash/%d", h.dims) }

func (h *Hash) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float64 {
	vec := make([]float64, h.dims)
	for _, tok := range strings.Fields(textnorm.Key(text)) {
		h.add(vec, "w:"+tok, 1)
		padded := []rune("#" + tok + "#")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(vec, string(padded[i:i+3]), 1)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func (h *Hash) add(vec []float64, feature string, weight float64) {
	f := fnv.New32a()
	f.Write([]byte(feature))
	sum := f.Sum32()
	sign := 1.0
	if sum&(1<<31) != 0 {
		sign = -1
	}
	vec[int(sum%uint32(h.dims))] += sign * weight
}
