// Package classifier turns a document into a ranked list of categories by
// letting the nearest indexed chunks of each of its chunks vote.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/dgallion1/lexclass/internal/chunker"
	"github.com/dgallion1/lexclass/internal/embedding"
	"github.com/dgallion1/lexclass/internal/index"
	"github.com/dgallion1/lexclass/internal/metrics"
)

// MinDocumentLen is the shortest stripped text, in characters, that is
// worth classifying.
const MinDocumentLen = 50

var (
	// ErrEmptyDocument means the extracted text is shorter than
	// MinDocumentLen.
	ErrEmptyDocument = errors.New("document has too little text")
	// ErrNoUsableText means chunking produced nothing to embed.
	ErrNoUsableText = errors.New("document produced no usable chunks")
	// ErrExtraction wraps failures of the text extractor.
	ErrExtraction = errors.New("text extraction failed")
	// ErrNoIndex means no index has been attached yet.
	ErrNoIndex = errors.New("no index loaded")
)

// Extractor is the text-extraction collaborator.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
	ExtractReader(ctx context.Context, r io.Reader, filename string) (string, error)
}

// Config holds the search and voting parameters.
type Config struct {
	K         int
	Threshold float64
	Policy    Policy
}

// DefaultConfig returns k=5 with the hard 0.4 cutoff.
func DefaultConfig() Config {
	return Config{K: 5, Threshold: VoteThreshold, Policy: HardCutoff}
}

// Validate rejects a non-positive K, a threshold outside [0,1) and unknown
// policies, wrapping chunker.ErrInvalidConfiguration.
func (c Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", chunker.ErrInvalidConfiguration, c.K)
	}
	if c.Threshold < 0 || c.Threshold >= 1 {
		return fmt.Errorf("%w: vote threshold %v outside [0,1)", chunker.ErrInvalidConfiguration, c.Threshold)
	}
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		return fmt.Errorf("%w: %v", chunker.ErrInvalidConfiguration, err)
	}
	return nil
}

// Classifier is safe for concurrent use. The index can be replaced while
// requests run; each request keeps the index it started with.
type Classifier struct {
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	extractor Extractor
	cfg       Config
	idx       atomic.Pointer[indexRef]
	log       *slog.Logger
	metrics   *metrics.Metrics
}

type indexRef struct{ index.Index }

// Option customizes a Classifier.
type Option func(*Classifier)

// WithExtractor enables ClassifyFile and ClassifyReader.
func WithExtractor(e Extractor) Option { return func(c *Classifier) { c.extractor = e } }

// WithMetrics records outcomes and latencies.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Classifier) { c.metrics = m } }

// New validates cfg and wires a classifier. idx may be nil when no index
// has been built yet; requests then fail with ErrNoIndex until SwapIndex.
func New(ch *chunker.Chunker, emb embedding.Embedder, idx index.Index, cfg Config, log *slog.Logger, opts ...Option) (*Classifier, error) {
	if ch == nil || emb == nil {
		return nil, errors.New("classifier needs a chunker and an embedder")
	}
	if cfg.Policy == "" {
		cfg.Policy = HardCutoff
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Classifier{
		chunker:  ch,
		embedder: emb,
		cfg:      cfg,
		log:      log.With("component", "classifier"),
	}
	for _, o := range opts {
		o(c)
	}
	if idx != nil {
		if err := c.SwapIndex(idx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SwapIndex makes idx the index for subsequent requests. It fails with
// ErrDimensionMismatch when the embedder's dimension is known and differs.
func (c *Classifier) SwapIndex(idx index.Index) error {
	if idx == nil {
		return ErrNoIndex
	}
	if d := c.embedder.Dimension(); d > 0 && d != idx.Dimension() {
		return fmt.Errorf("%w: embedder produces %d, index holds %d", index.ErrDimensionMismatch, d, idx.Dimension())
	}
	c.idx.Store(&indexRef{idx})
	c.metrics.SetIndexSize(idx.Len())
	c.log.Info("index attached", "vectors", idx.Len(), "dimension", idx.Dimension())
	return nil
}

// Index returns the active index, or nil.
func (c *Classifier) Index() index.Index {
	ref := c.idx.Load()
	if ref == nil {
		return nil
	}
	return ref.Index
}

// Config returns the settings the classifier was built with.
func (c *Classifier) Config() Config { return c.cfg }

// Classify ranks the categories for already-extracted text.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	start := time.Now()
	res, chunks, err := c.classify(ctx, text)
	switch {
	case err != nil:
		c.metrics.ObserveClassification(metrics.OutcomeError, 0, 0, 0)
	case len(res) == 0:
		c.metrics.ObserveClassification(metrics.OutcomeNotFound, time.Since(start), chunks, 0)
	default:
		c.metrics.ObserveClassification(metrics.OutcomeFound, time.Since(start), chunks, res[0].Score)
	}
	return res, err
}

func (c *Classifier) classify(ctx context.Context, text string) (Result, int, error) {
	ref := c.idx.Load()
	if ref == nil {
		return nil, 0, ErrNoIndex
	}
	idx := ref.Index

	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < MinDocumentLen {
		return nil, 0, fmt.Errorf("%w: %d characters", ErrEmptyDocument, n)
	}

	chunks := chunker.Texts(c.chunker.Split(text))
	if len(chunks) == 0 {
		return nil, 0, ErrNoUsableText
	}

	embedStart := time.Now()
	vecs, err := c.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, len(chunks), fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	c.metrics.ObserveEmbedding(time.Since(embedStart), len(chunks))
	if len(vecs) != len(chunks) {
		return nil, len(chunks), fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	for i, v := range vecs {
		if len(v) != idx.Dimension() {
			return nil, len(chunks), fmt.Errorf("%w: chunk %d embedded to %d, index holds %d", index.ErrDimensionMismatch, i, len(v), idx.Dimension())
		}
	}

	neighbors, err := idx.Search(ctx, vecs, c.cfg.K)
	if err != nil {
		return nil, len(chunks), fmt.Errorf("search index: %w", err)
	}

	res := Vote(neighbors, c.cfg.Policy, c.cfg.Threshold)
	c.log.Debug("classified", "chunks", len(chunks), "categories", len(res))
	return res, len(chunks), nil
}

// ClassifyFile extracts the document at path and classifies it.
func (c *Classifier) ClassifyFile(ctx context.Context, path string) (Result, error) {
	if c.extractor == nil {
		return nil, errors.New("classifier has no extractor")
	}
	text, err := c.extractor.ExtractText(ctx, path)
	if err != nil {
		c.metrics.ObserveClassification(metrics.OutcomeError, 0, 0, 0)
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return c.Classify(ctx, text)
}

// ClassifyReader extracts an uploaded document and classifies it. filename
// selects the parser.
func (c *Classifier) ClassifyReader(ctx context.Context, r io.Reader, filename string) (Result, error) {
	if c.extractor == nil {
		return nil, errors.New("classifier has no extractor")
	}
	text, err := c.extractor.ExtractReader(ctx, r, filename)
	if err != nil {
		c.metrics.ObserveClassification(metrics.OutcomeError, 0, 0, 0)
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return c.Classify(ctx, text)
}
