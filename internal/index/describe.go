package index

import (
	"math/rand/v2"
	"sort"
)

// Report summarizes an index for operators.
type Report struct {
	Vectors    int             `json:"vectors"`
	Dimension  int             `json:"dimension"`
	Metadata   int             `json:"metadata"`
	BuildID    string          `json:"build_id,omitempty"`
	Categories []CategoryCount `json:"categories,omitempty"`
	Sample     *Sample         `json:"sample,omitempty"`
}

// CategoryCount is the share of the index held by one category.
type CategoryCount struct {
	Category string `json:"category"`
	Vectors  int    `json:"vectors"`
	Files    int    `json:"files"`
}

// Sample is one randomly picked entry.
type Sample struct {
	Position int       `json:"position"`
	Meta     Meta      `json:"meta"`
	Head     []float32 `json:"head"`
}

const sampleHead = 5

// Describe reports the size of idx. Indexes that expose their contents also
// get a per-category distribution and a random sample drawn with rng; a nil
// rng skips the sample.
func Describe(idx Index, rng *rand.Rand) Report {
	r := Report{
		Vectors:   idx.Len(),
		Dimension: idx.Dimension(),
		Metadata:  idx.Len(),
	}
	in, ok := idx.(Inspectable)
	if !ok {
		return r
	}

	metas := in.Metas()
	r.Metadata = len(metas)
	r.BuildID = in.BuildID()
	r.Categories = CountCategories(metas)

	if rng != nil && len(metas) > 0 {
		pos := rng.IntN(len(metas))
		v := in.Vector(pos)
		r.Sample = &Sample{Position: pos, Meta: metas[pos], Head: v[:min(sampleHead, len(v))]}
	}
	return r
}

// CountCategories tallies vectors and distinct files per category, largest
// first.
func CountCategories(metas []Meta) []CategoryCount {
	byCat := map[string]*CategoryCount{}
	files := map[Meta]bool{}
	for _, m := range metas {
		c, ok := byCat[m.Category]
		if !ok {
			c = &CategoryCount{Category: m.Category}
			byCat[m.Category] = c
		}
		c.Vectors++
		if !files[m] {
			files[m] = true
			c.Files++
		}
	}

	out := make([]CategoryCount, 0, len(byCat))
	for _, c := range byCat {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Vectors != out[j].Vectors {
			return out[i].Vectors > out[j].Vectors
		}
		return out[i].Category < out[j].Category
	})
	return out
}
