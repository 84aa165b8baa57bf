package classifier

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/lexclass/internal/index"
)

func hits(pairs ...any) []index.Neighbor {
	var out []index.Neighbor
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, index.Neighbor{
			Position: i / 2,
			Score:    float32(pairs[i+1].(float64)),
			Meta:     index.Meta{Category: pairs[i].(string)},
		})
	}
	return out
}

func TestVote_HardCutoffAccumulatesRawScores(t *testing.T) {
	res := Vote([][]index.Neighbor{hits("A", 0.9, "B", 0.3, "A", 0.5)}, HardCutoff, VoteThreshold)

	require.Len(t, res, 1)
	assert.Equal(t, "A", res[0].Category)
	assert.InDelta(t, 1.4, res[0].Score, 1e-6)
}

func TestVote_ThresholdIsExclusive(t *testing.T) {
	res := Vote([][]index.Neighbor{hits("A", 0.4, "B", 0.4)}, HardCutoff, 0.4)
	assert.Empty(t, res)
}

func TestVote_ScoreOnDefaultThresholdDoesNotVote(t *testing.T) {
	for _, policy := range []Policy{HardCutoff, SoftWeight} {
		res := Vote([][]index.Neighbor{hits("A", 0.4)}, policy, VoteThreshold)
		assert.Empty(t, res, "policy %s", policy)
	}

	// The next float32 above the threshold still counts.
	res := Vote([][]index.Neighbor{{{Score: math.Nextafter32(0.4, 1), Meta: index.Meta{Category: "A"}}}}, SoftWeight, VoteThreshold)
	require.Len(t, res, 1)
	assert.Greater(t, res[0].Score, 0.0)
}

func TestVote_NothingAboveThresholdIsEmpty(t *testing.T) {
	res := Vote([][]index.Neighbor{
		hits("A", 0.39, "B", 0.1),
		hits("C", 0.2, "A", 0.0),
	}, HardCutoff, VoteThreshold)
	assert.Empty(t, res)
	_, ok := res.Winner()
	assert.False(t, ok)
}

func TestVote_AccumulatesAcrossChunks(t *testing.T) {
	res := Vote([][]index.Neighbor{
		hits("A", 0.8, "B", 0.7),
		hits("B", 0.9, "B", 0.6),
		hits("C", 0.5),
	}, HardCutoff, VoteThreshold)

	require.Len(t, res, 3)
	assert.Equal(t, "B", res[0].Category)
	assert.InDelta(t, 2.2, res[0].Score, 1e-6)
	assert.Equal(t, "A", res[1].Category)
	assert.Equal(t, "C", res[2].Category)

	w, ok := res.Winner()
	require.True(t, ok)
	assert.Equal(t, "B", w.Category)
}

func TestVote_TiesRankByCategoryName(t *testing.T) {
	res := Vote([][]index.Neighbor{hits("zeta", 0.5, "alpha", 0.5, "mid", 0.5)}, HardCutoff, VoteThreshold)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, []string{res[0].Category, res[1].Category, res[2].Category})
}

func TestVote_SoftWeightUsesMargin(t *testing.T) {
	res := Vote([][]index.Neighbor{hits("A", 0.9, "B", 0.3, "A", 0.5)}, SoftWeight, VoteThreshold)

	require.Len(t, res, 1)
	assert.InDelta(t, 0.6, res[0].Score, 1e-6)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, HardCutoff, p)

	p, err = ParsePolicy("soft")
	require.NoError(t, err)
	assert.Equal(t, SoftWeight, p)

	_, err = ParsePolicy("linear")
	assert.Error(t, err)
}
