// Package index stores chunk vectors with their labels and answers
// k-nearest-neighbor queries by inner product.
package index

import (
	"context"
	"errors"
)

var (
	// ErrLengthMismatch means vectors and metadata passed to Add differ in
	// count.
	ErrLengthMismatch = errors.New("vector and metadata counts differ")
	// ErrDimensionMismatch means a vector's length differs from the index
	// dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrCorruptIndex means a persisted index and its metadata do not belong
	// together. It is fatal: the index must not serve queries.
	ErrCorruptIndex = errors.New("corrupt index")
)

// Meta labels one stored vector.
type Meta struct {
	Category string `json:"category"`
	Filename string `json:"filename"`
}

// Neighbor is one search hit. Position is the entry's insertion order.
type Neighbor struct {
	Position int     `json:"position"`
	Score    float32 `json:"score"`
	Meta     Meta    `json:"meta"`
}

// Index is an inner-product vector index with parallel metadata.
type Index interface {
	Dimension() int
	Len() int
	// Add appends vectors[i] labelled metas[i], in order.
	Add(ctx context.Context, vectors [][]float32, metas []Meta) error
	// Search returns, for each query, the k stored entries with the highest
	// inner product, best first, ties to the lower position. Fewer than k
	// entries are returned when the index holds fewer.
	Search(ctx context.Context, queries [][]float32, k int) ([][]Neighbor, error)
}

// Inspectable indexes can hand back what they store.
type Inspectable interface {
	Index
	Vector(position int) []float32
	Metas() []Meta
	BuildID() string
}
