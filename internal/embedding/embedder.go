// Package embedding maps chunk text to L2-normalized vectors.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Embedder maps a batch of texts to vectors, one per input and in the same
// order. Every vector is L2-normalized so that inner product equals cosine
// similarity.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the length of every returned vector. It is 0 when the
	// provider only learns it from its first response.
	Dimension() int
}

// Normalize scales v in place to unit length. Zero vectors are left alone.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

// checkBatch verifies a provider answered every input with vectors of one
// shared length, and returns that length.
func checkBatch(vecs [][]float32, want int) (int, error) {
	if len(vecs) != want {
		return 0, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(vecs), want)
	}
	dim := 0
	for i, v := range vecs {
		if v == nil {
			return 0, fmt.Errorf("embedding provider returned no vector for input %d", i)
		}
		if dim == 0 {
			dim = len(v)
		} else if len(v) != dim {
			return 0, fmt.Errorf("embedding provider returned vectors of length %d and %d", dim, len(v))
		}
	}
	return dim, nil
}
