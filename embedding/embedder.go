// Package embedding defines the interface for text embedding providers.
// It lets the fit command turn a list of texts into a point set without
// knowing which backend produced the vectors.
package embedding

import (
	"context"
	"fmt"
)

// Embedder is the interface that text embedding providers must implement.
type Embedder interface {
	// Embed converts every text into a vector embedding, in order.
	// All returned vectors have the same length. An empty input returns nil
	// without error.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CheckDimensions reports an error unless every vector is non-empty and has
// the length of the first one.
func CheckDimensions(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	dimension := len(vectors[0])
	for i, vector := range vectors {
		if len(vector) == 0 || len(vector) != dimension {
			return fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(vector), dimension)
		}
	}
	return nil
}
