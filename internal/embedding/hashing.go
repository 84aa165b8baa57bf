package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Hashing is a deterministic, offline embedder based on signed feature
// hashing of words and character trigrams. It needs no model or network and
// gives usable lexical similarity, which makes it the default for tests and
// air-gapped deployments.
type Hashing struct {
	dim int
}

// NewHashing returns a Hashing embedder producing dim-length vectors.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = 384
	}
	return &Hashing{dim: dim}
}

func (h *Hashing) Dimension() int { return h.dim }

func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	v := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h.add(v, "w:"+w, 1)
		runes := []rune(" " + w + " ")
		for j := 0; j+3 <= len(runes); j++ {
			h.add(v, "t:"+string(runes[j:j+3]), 0.5)
		}
	}
	Normalize(v)
	return v
}

func (h *Hashing) add(v []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(h.dim)
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}
