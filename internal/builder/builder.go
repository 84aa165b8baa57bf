// Package builder rebuilds the vector index from a labelled corpus laid out
// as one directory per category.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/dgallion1/lexclass/internal/chunker"
	"github.com/dgallion1/lexclass/internal/embedding"
	"github.com/dgallion1/lexclass/internal/index"
	"github.com/dgallion1/lexclass/internal/metrics"
)

// MinDocumentLen is the shortest stripped text, in characters, a document
// needs to be indexed.
const MinDocumentLen = 50

// ErrEmptyCorpus means no document of the corpus produced a vector.
var ErrEmptyCorpus = errors.New("corpus produced no vectors")

// Extractor returns the plain text of a corpus file.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// Publisher turns the collected vectors into a persisted, queryable index.
type Publisher interface {
	Publish(ctx context.Context, buildID string, dim int, vectors [][]float32, metas []index.Meta) (index.Index, error)
}

// Summary reports one build.
type Summary struct {
	BuildID    string                `json:"build_id"`
	Documents  int                   `json:"documents"`
	Indexed    int                   `json:"indexed"`
	Skipped    int                   `json:"skipped"`
	Vectors    int                   `json:"vectors"`
	Dimension  int                   `json:"dimension"`
	Categories []index.CategoryCount `json:"categories"`
	Duration   time.Duration         `json:"duration"`
}

// Builder runs full index rebuilds. It holds no per-build state and may be
// reused.
type Builder struct {
	extractor Extractor
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	workers   int
	log       *slog.Logger
	metrics   *metrics.Metrics
	progress  func(done, total int)
}

// New returns a Builder. workers bounds how many documents are extracted
// and embedded at once; zero or less uses GOMAXPROCS.
func New(ext Extractor, ch *chunker.Chunker, emb embedding.Embedder, workers int, log *slog.Logger, m *metrics.Metrics) *Builder {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Builder{
		extractor: ext,
		chunker:   ch,
		embedder:  emb,
		workers:   workers,
		log:       log.With("component", "builder"),
		metrics:   m,
	}
}

// WithProgress returns a copy of b that calls fn after each document with
// the number processed so far and the total. Calls are serialized.
func (b *Builder) WithProgress(fn func(done, total int)) *Builder {
	c := *b
	c.progress = fn
	return &c
}

type docResult struct {
	vectors [][]float32
	skipped bool
}

// Run walks the corpus under root and builds it with Build.
func (b *Builder) Run(ctx context.Context, root string, pub Publisher) (Summary, index.Index, error) {
	docs, err := Walk(root)
	if err != nil {
		return Summary{}, nil, err
	}
	b.log.Info("corpus scanned", "root", root, "documents", len(docs), "workers", b.workers)
	return b.Build(ctx, docs, pub)
}

// Build embeds every usable document and hands the result to pub. Documents
// that fail extraction or embedding, or carry too little text, are logged
// and skipped. The order of docs decides entry positions, so unchanged input
// gives an identical index.
func (b *Builder) Build(ctx context.Context, docs []Document, pub Publisher) (Summary, index.Index, error) {
	start := time.Now()
	results, err := b.process(ctx, docs)
	if err != nil {
		return Summary{}, nil, err
	}

	sum := Summary{Documents: len(docs)}
	var vectors [][]float32
	var metas []index.Meta
	for i, r := range results {
		if r.skipped {
			sum.Skipped++
			continue
		}
		sum.Indexed++
		for _, v := range r.vectors {
			if sum.Dimension == 0 {
				sum.Dimension = len(v)
			}
			if len(v) != sum.Dimension {
				return Summary{}, nil, fmt.Errorf("%w: %s embedded to %d, earlier documents to %d",
					index.ErrDimensionMismatch, docs[i].Path, len(v), sum.Dimension)
			}
			vectors = append(vectors, v)
			metas = append(metas, index.Meta{Category: docs[i].Category, Filename: docs[i].Filename})
		}
	}
	if len(vectors) == 0 {
		return Summary{}, nil, fmt.Errorf("%w: %d documents", ErrEmptyCorpus, len(docs))
	}

	sum.BuildID = ulid.Make().String()
	sum.Vectors = len(vectors)
	sum.Categories = index.CountCategories(metas)

	idx, err := pub.Publish(ctx, sum.BuildID, sum.Dimension, vectors, metas)
	if err != nil {
		return Summary{}, nil, fmt.Errorf("publish build %s: %w", sum.BuildID, err)
	}
	sum.Duration = time.Since(start)

	b.log.Info("index built",
		"build_id", sum.BuildID,
		"indexed", sum.Indexed,
		"skipped", sum.Skipped,
		"vectors", sum.Vectors,
		"dimension", sum.Dimension,
		"duration", sum.Duration,
	)
	return sum, idx, nil
}

// process embeds docs on a bounded pool. Results land in the slot of their
// document so the output order never depends on scheduling.
func (b *Builder) process(ctx context.Context, docs []Document) ([]docResult, error) {
	results := make([]docResult, len(docs))

	pool, err := ants.NewPool(b.workers, ants.WithPanicHandler(func(p any) {
		b.log.Error("build worker panic", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for i := range docs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		// A panicking task never writes its slot, so default to skipped.
		results[i].skipped = true
		err := pool.Submit(func() {
			defer wg.Done()
			results[i] = b.processDocument(ctx, docs[i])
			if b.progress != nil {
				mu.Lock()
				done++
				b.progress(done, len(docs))
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			return nil, fmt.Errorf("submit %s: %w", docs[i].Path, err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *Builder) processDocument(ctx context.Context, doc Document) docResult {
	log := b.log.With("category", doc.Category, "file", doc.Filename)
	skip := func(reason string, args ...any) docResult {
		log.Warn("skipping document: "+reason, args...)
		b.metrics.ObserveBuildDocument("skipped")
		return docResult{skipped: true}
	}

	text, err := b.extractor.ExtractText(ctx, doc.Path)
	if err != nil {
		return skip("extraction failed", "error", err)
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < MinDocumentLen {
		return skip("too little text", "chars", n)
	}

	chunks := chunker.Texts(b.chunker.Split(text))
	if len(chunks) == 0 {
		return skip("no usable chunks")
	}

	embedStart := time.Now()
	vecs, err := b.embedder.Embed(ctx, chunks)
	if err != nil {
		return skip("embedding failed", "error", err)
	}
	if len(vecs) != len(chunks) {
		return skip("embedder returned wrong vector count", "chunks", len(chunks), "vectors", len(vecs))
	}
	b.metrics.ObserveEmbedding(time.Since(embedStart), len(chunks))
	b.metrics.ObserveBuildDocument("indexed")

	log.Debug("document embedded", "chunks", len(chunks))
	return docResult{vectors: vecs}
}
