package index

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
)

// Flat is an exhaustive in-memory inner-product index, the equivalent of a
// FAISS IndexFlatIP. Vectors are stored back to back in one slice.
type Flat struct {
	mu      sync.RWMutex
	dim     int
	data    []float32
	metas   []Meta
	buildID string
}

// NewFlat returns an empty index for dim-length vectors.
func NewFlat(dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}
	return &Flat{dim: dim}, nil
}

// Dimension returns the vector length fixed at construction.
func (f *Flat) Dimension() int { return f.dim }

// Len returns the number of stored entries.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.metas)
}

// BuildID identifies the build that produced the index. Empty for indexes
// that were never persisted.
func (f *Flat) BuildID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.buildID
}

// SetBuildID tags the index before it is saved.
func (f *Flat) SetBuildID(id string) {
	f.mu.Lock()
	f.buildID = id
	f.mu.Unlock()
}

// Add appends vectors with their metadata in order. Counts must match
// (ErrLengthMismatch) and every vector must have the index dimension
// (ErrDimensionMismatch); on error nothing is added.
func (f *Flat) Add(_ context.Context, vectors [][]float32, metas []Meta) error {
	if len(vectors) != len(metas) {
		return fmt.Errorf("%w: %d vectors, %d metadata entries", ErrLengthMismatch, len(vectors), len(metas))
	}
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has length %d, index dimension is %d", ErrDimensionMismatch, i, len(v), f.dim)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	f.metas = append(f.metas, metas...)
	return nil
}

// Search returns, per query, the k entries with the highest inner product,
// best first, equal scores ordered by lower position.
func (f *Flat) Search(ctx context.Context, queries [][]float32, k int) ([][]Neighbor, error) {
	for i, q := range queries {
		if len(q) != f.dim {
			return nil, fmt.Errorf("%w: query %d has length %d, index dimension is %d", ErrDimensionMismatch, i, len(q), f.dim)
		}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([][]Neighbor, len(queries))
	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = f.topK(q, k)
	}
	return out, nil
}

// Vector returns a copy of the stored vector at position.
func (f *Flat) Vector(position int) []float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if position < 0 || position >= len(f.metas) {
		return nil
	}
	v := make([]float32, f.dim)
	copy(v, f.data[position*f.dim:(position+1)*f.dim])
	return v
}

// Metas returns a copy of the metadata list in insertion order.
func (f *Flat) Metas() []Meta {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Meta(nil), f.metas...)
}

// topK scans every entry keeping the k best in a min-heap. Caller holds the
// read lock.
func (f *Flat) topK(q []float32, k int) []Neighbor {
	n := len(f.metas)
	if k > n {
		k = n
	}
	if k <= 0 {
		return []Neighbor{}
	}

	h := make(worstFirst, 0, k)
	for pos := 0; pos < n; pos++ {
		s := dot(q, f.data[pos*f.dim:(pos+1)*f.dim])
		if len(h) < k {
			heap.Push(&h, hit{pos: pos, score: s})
			continue
		}
		// Positions arrive in increasing order, so an equal score never
		// displaces an earlier entry.
		if s > h[0].score {
			h[0] = hit{pos: pos, score: s}
			heap.Fix(&h, 0)
		}
	}

	res := make([]Neighbor, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		top := heap.Pop(&h).(hit)
		res[i] = Neighbor{Position: top.pos, Score: top.score, Meta: f.metas[top.pos]}
	}
	return res
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

type hit struct {
	pos   int
	score float32
}

// worstFirst is a heap whose root is the weakest kept hit: lowest score,
// and among equal scores the highest position.
type worstFirst []hit

func (h worstFirst) Len() int { return len(h) }
func (h worstFirst) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].pos > h[j].pos
}
func (h worstFirst) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)   { *h = append(*h, x.(hit)) }
func (h *worstFirst) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
