package classifier

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/lexclass/internal/chunker"
	"github.com/dgallion1/lexclass/internal/embedding"
	"github.com/dgallion1/lexclass/internal/index"
	"github.com/dgallion1/lexclass/internal/metrics"
)

// fixedIndex answers every query with the same neighbors.
type fixedIndex struct {
	dim     int
	hits    []index.Neighbor
	queries int
}

func (f *fixedIndex) Dimension() int { return f.dim }
func (f *fixedIndex) Len() int       { return len(f.hits) }
func (f *fixedIndex) Add(context.Context, [][]float32, []index.Meta) error {
	return errors.New("read only")
}

func (f *fixedIndex) Search(_ context.Context, queries [][]float32, k int) ([][]index.Neighbor, error) {
	out := make([][]index.Neighbor, len(queries))
	for i := range queries {
		f.queries++
		out[i] = f.hits[:min(k, len(f.hits))]
	}
	return out, nil
}

// constEmbedder maps every text to the same unit vector.
type constEmbedder struct {
	dim   int
	calls int
	err   error
}

func (e *constEmbedder) Dimension() int { return e.dim }
func (e *constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		v := make([]float32, e.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

type mapExtractor map[string]string

func (m mapExtractor) ExtractText(_ context.Context, path string) (string, error) {
	text, ok := m[path]
	if !ok {
		return "", errors.New("no such document")
	}
	return text, nil
}

func (m mapExtractor) ExtractReader(_ context.Context, r io.Reader, _ string) (string, error) {
	data, err := io.ReadAll(r)
	return string(data), err
}

var longText = strings.Repeat("Sąd Okręgowy oddala powództwo w całości. ", 4)

func newClassifier(t *testing.T, idx index.Index, emb embedding.Embedder, opts ...Option) *Classifier {
	t.Helper()
	ch, err := chunker.New(chunker.DefaultConfig())
	require.NoError(t, err)
	c, err := New(ch, emb, idx, DefaultConfig(), nil, opts...)
	require.NoError(t, err)
	return c
}

func TestClassify_WeightedVote(t *testing.T) {
	idx := &fixedIndex{dim: 4, hits: hits("A", 0.9, "B", 0.3, "A", 0.5)}
	c := newClassifier(t, idx, &constEmbedder{dim: 4})

	res, err := c.Classify(context.Background(), longText)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "A", res[0].Category)
	assert.InDelta(t, 1.4, res[0].Score, 1e-6)
	assert.Equal(t, 1, idx.queries)
}

func TestClassify_NoConfidentNeighborIsEmptySuccess(t *testing.T) {
	idx := &fixedIndex{dim: 4, hits: hits("A", 0.4, "B", 0.2)}
	c := newClassifier(t, idx, &constEmbedder{dim: 4})

	res, err := c.Classify(context.Background(), longText)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestClassify_ShortTextIsEmptyDocument(t *testing.T) {
	emb := &constEmbedder{dim: 4}
	c := newClassifier(t, &fixedIndex{dim: 4}, emb)

	for _, text := range []string{"", "   ", "krótki tekst", strings.Repeat("x", 49) + "\n\n\t"} {
		res, err := c.Classify(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyDocument, "%q", text)
		assert.Nil(t, res)
	}
	assert.Zero(t, emb.calls)
}

func TestClassify_NoUsableText(t *testing.T) {
	ch, err := chunker.New(chunker.Config{WindowSize: 20, Overlap: 5, MinLen: 50})
	require.NoError(t, err)
	c, err := New(ch, &constEmbedder{dim: 4}, &fixedIndex{dim: 4}, DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), longText)
	assert.ErrorIs(t, err, ErrNoUsableText)
}

func TestClassify_EmbeddingFailurePropagates(t *testing.T) {
	boom := errors.New("model offline")
	c := newClassifier(t, &fixedIndex{dim: 4}, &constEmbedder{dim: 4, err: boom})

	_, err := c.Classify(context.Background(), longText)
	assert.ErrorIs(t, err, boom)
}

func TestNew_DimensionMismatch(t *testing.T) {
	ch, _ := chunker.New(chunker.DefaultConfig())
	_, err := New(ch, &constEmbedder{dim: 8}, &fixedIndex{dim: 4}, DefaultConfig(), nil)
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
}

func TestClassify_DimensionCheckedPerEmbed(t *testing.T) {
	// Dimension 0 means the embedder learns its size from the first call.
	emb := &lazyEmbedder{constEmbedder{dim: 8}}
	c := newClassifier(t, &fixedIndex{dim: 4, hits: hits("A", 0.9)}, emb)

	_, err := c.Classify(context.Background(), longText)
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
}

type lazyEmbedder struct{ constEmbedder }

func (l *lazyEmbedder) Dimension() int { return 0 }

func TestNew_InvalidConfig(t *testing.T) {
	ch, _ := chunker.New(chunker.DefaultConfig())
	for _, cfg := range []Config{
		{K: 0, Threshold: 0.4},
		{K: 5, Threshold: 1.2},
		{K: 5, Threshold: 0.4, Policy: "linear"},
	} {
		_, err := New(ch, &constEmbedder{dim: 4}, nil, cfg, nil)
		assert.ErrorIs(t, err, chunker.ErrInvalidConfiguration, "%+v", cfg)
	}
}

func TestClassify_WithoutIndex(t *testing.T) {
	c := newClassifier(t, nil, &constEmbedder{dim: 4})
	_, err := c.Classify(context.Background(), longText)
	assert.ErrorIs(t, err, ErrNoIndex)

	require.NoError(t, c.SwapIndex(&fixedIndex{dim: 4, hits: hits("B", 0.7)}))
	res, err := c.Classify(context.Background(), longText)
	require.NoError(t, err)
	assert.Equal(t, "B", res[0].Category)
}

func TestSwapIndex_RejectsMismatch(t *testing.T) {
	c := newClassifier(t, &fixedIndex{dim: 4, hits: hits("A", 0.9)}, &constEmbedder{dim: 4})
	err := c.SwapIndex(&fixedIndex{dim: 3})
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
	assert.Equal(t, 4, c.Index().Dimension(), "failed swap keeps the old index")
}

func TestClassifyFile(t *testing.T) {
	idx := &fixedIndex{dim: 4, hits: hits("umowy", 0.8)}
	ext := mapExtractor{"a.pdf": longText, "blank.pdf": ""}
	m := metrics.New()
	c := newClassifier(t, idx, &constEmbedder{dim: 4}, WithExtractor(ext), WithMetrics(m))

	res, err := c.ClassifyFile(context.Background(), "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "umowy", res[0].Category)

	_, err = c.ClassifyFile(context.Background(), "blank.pdf")
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = c.ClassifyFile(context.Background(), "missing.pdf")
	assert.ErrorIs(t, err, ErrExtraction)
	assert.NotErrorIs(t, err, ErrEmptyDocument)

	res, err = c.ClassifyReader(context.Background(), strings.NewReader(longText), "upload.txt")
	require.NoError(t, err)
	assert.Equal(t, "umowy", res[0].Category)
}

func TestClassify_EndToEndWithFlatIndex(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewHashing(256)
	corpus := map[string]string{
		"wyroki": strings.Repeat("wyrok sąd apelacyjny oddala apelację pozwanego koszty postępowania ", 5),
		"umowy":  strings.Repeat("umowa najmu lokalu czynsz kaucja wynajmujący najemca wypowiedzenie ", 5),
	}

	flat, err := index.NewFlat(emb.Dimension())
	require.NoError(t, err)
	for _, cat := range []string{"umowy", "wyroki"} {
		vecs, err := emb.Embed(ctx, []string{corpus[cat]})
		require.NoError(t, err)
		require.NoError(t, flat.Add(ctx, vecs, []index.Meta{{Category: cat, Filename: cat + ".pdf"}}))
	}

	c := newClassifier(t, flat, emb)
	res, err := c.Classify(ctx, strings.Repeat("umowa najmu lokalu czynsz kaucja najemca zapłaci ", 3))
	require.NoError(t, err)
	w, ok := res.Winner()
	require.True(t, ok)
	assert.Equal(t, "umowy", w.Category)
}
