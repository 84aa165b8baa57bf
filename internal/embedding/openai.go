package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dgallion1/lexclass/internal/chunker"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint. Setting
// BaseURL points the client at a self-hosted server (Ollama, vLLM, TEI)
// exposing the same API.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// Dimension is the expected vector length. Zero accepts whatever the
	// first response returns and pins it for the life of the client.
	Dimension int

	// BatchSize caps the inputs sent per request.
	BatchSize int
	// MaxBatchTokens caps the estimated tokens sent per request.
	MaxBatchTokens int
}

// OpenAI embeds text through the /v1/embeddings API.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	dim    atomic.Int64
	log    *slog.Logger

	Stats *Stats
}

// NewOpenAI creates a client. An API key is required unless BaseURL points at
// a local server.
func NewOpenAI(cfg OpenAIConfig, log *slog.Logger) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("embedding api key is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.MaxBatchTokens <= 0 {
		cfg.MaxBatchTokens = 250_000
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	e := &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		log:    log.With("component", "embedding", "model", cfg.Model),
		Stats:  NewStats(time.Hour),
	}
	e.dim.Store(int64(cfg.Dimension))
	return e, nil
}

// Model returns the configured model name.
func (e *OpenAI) Model() string { return e.cfg.Model }

func (e *OpenAI) Dimension() int { return int(e.dim.Load()) }

// Embed sends texts in as few requests as the batch limits allow.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range splitBatches(texts, e.cfg.BatchSize, e.cfg.MaxBatchTokens) {
		vecs, err := e.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}

	dim, err := checkBatch(out, len(texts))
	if err != nil {
		return nil, err
	}
	if dim > 0 && !e.dim.CompareAndSwap(0, int64(dim)) && int(e.dim.Load()) != dim {
		return nil, fmt.Errorf("model %s returned %d-dimensional vectors, expected %d", e.cfg.Model, dim, e.dim.Load())
	}
	return out, nil
}

func (e *OpenAI) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := range MaxRetries {
		vecs, err := e.embedOnce(ctx, batch)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
		e.log.Warn("retryable embedding error", "attempt", attempt, "batch", len(batch), "error", err)
		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("embed %d texts: %w", len(batch), lastErr)
}

func (e *OpenAI) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.cfg.Model),
		Input: batch,
	})
	if err != nil {
		return nil, classifyError(err)
	}
	e.Stats.Record(time.Since(start), len(batch))

	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(resp.Data), len(batch))
	}
	vecs := make([][]float32, len(batch))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(batch) {
			return nil, fmt.Errorf("embedding api returned out-of-range index %d", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		Normalize(v)
		vecs[d.Index] = v
	}
	return vecs, nil
}

// splitBatches groups texts so that no group exceeds maxItems inputs or
// maxTokens estimated tokens. A single oversized text still gets its own
// batch; the provider truncates or rejects it.
func splitBatches(texts []string, maxItems, maxTokens int) [][]string {
	var batches [][]string
	var cur []string
	tokens := 0
	for _, t := range texts {
		n := chunker.EstimateTokens(t)
		if len(cur) > 0 && (len(cur) >= maxItems || tokens+n > maxTokens) {
			batches = append(batches, cur)
			cur, tokens = nil, 0
		}
		cur = append(cur, t)
		tokens += n
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
