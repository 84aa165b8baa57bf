package classifier

import (
	"fmt"
	"sort"

	"github.com/dgallion1/lexclass/internal/index"
)

// VoteThreshold is the similarity a neighbor must exceed to vote.
const VoteThreshold = 0.4

// Policy decides how much a neighbor's similarity counts toward its
// category.
type Policy string

const (
	// HardCutoff adds the raw similarity of every neighbor scoring above the
	// threshold and ignores the rest.
	HardCutoff Policy = "hard"
	// SoftWeight adds only the margin above the threshold, max(0, s-t), so
	// neighbors just over the line barely count.
	SoftWeight Policy = "soft"
)

// ParsePolicy maps a config value to a Policy. Empty selects HardCutoff.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", HardCutoff:
		return HardCutoff, nil
	case SoftWeight:
		return SoftWeight, nil
	}
	return "", fmt.Errorf("unknown vote policy %q", s)
}

// weight compares in float32, the precision scores are stored in, so a
// neighbor sitting exactly on the threshold never votes.
func (p Policy) weight(score float32, threshold float64) float64 {
	if score <= float32(threshold) {
		return 0
	}
	if p == SoftWeight {
		return float64(score) - threshold
	}
	return float64(score)
}

// CategoryScore is one row of a classification result.
type CategoryScore struct {
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

// Result ranks categories by accumulated vote, best first. An empty Result
// means no neighbor cleared the threshold.
type Result []CategoryScore

// Winner returns the top category, if any.
func (r Result) Winner() (CategoryScore, bool) {
	if len(r) == 0 {
		return CategoryScore{}, false
	}
	return r[0], true
}

// Vote accumulates neighbor similarities per category under policy and
// ranks the categories by score descending. Equal scores rank by category
// name so the order never depends on map iteration.
func Vote(neighbors [][]index.Neighbor, policy Policy, threshold float64) Result {
	table := map[string]float64{}
	for _, hits := range neighbors {
		for _, n := range hits {
			w := policy.weight(n.Score, threshold)
			if w <= 0 {
				continue
			}
			table[n.Meta.Category] += w
		}
	}

	res := make(Result, 0, len(table))
	for cat, score := range table {
		res = append(res, CategoryScore{Category: cat, Score: score})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Score != res[j].Score {
			return res[i].Score > res[j].Score
		}
		return res[i].Category < res[j].Category
	})
	return res
}
