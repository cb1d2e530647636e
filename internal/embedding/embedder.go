// Package embedding turns text into vectors and searches the known-entity
// index by cosine similarity.
package embedding

import (
	"context"
	"math"
)

// Embedder generates embedding vectors
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
}

// Embed generates an embedding vector for a single text
func Embed(ctx context.Context, e Embedder, text string) ([]float64, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CosineSimilarity computes similarity between two vectors
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
