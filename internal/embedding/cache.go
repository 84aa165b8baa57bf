package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	goredis "github.com/redis/go-redis/v9"
)

// KV is the slice of the Redis client the cache uses. *redis.Client and
// *redis.ClusterClient both satisfy it.
type KV interface {
	MGet(ctx context.Context, keys ...string) *goredis.SliceCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// CacheConfig controls the Redis embedding cache.
type CacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
	// Namespace separates vectors of different models. Usually the model name.
	Namespace string
}

// Cached wraps an Embedder with a Redis cache keyed by the SHA-256 of the
// text. Only cache misses reach the wrapped embedder, in one batch. Redis
// failures are logged and the call falls through to the wrapped embedder.
type Cached struct {
	next Embedder
	kv   KV
	cfg  CacheConfig
	log  *slog.Logger
}

func NewCached(next Embedder, kv KV, cfg CacheConfig, log *slog.Logger) *Cached {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "lexclass:emb:"
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Cached{next: next, kv: kv, cfg: cfg, log: log.With("component", "embedding_cache")}
}

func (c *Cached) Dimension() int { return c.next.Dimension() }

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	vals, err := c.kv.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn("cache lookup failed", "error", err)
		return c.next.Embed(ctx, texts)
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i := range texts {
		if v := c.decode(vals, i); v != nil {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	c.log.Debug("cache lookup", "hits", len(texts)-len(missIdx), "misses", len(missIdx))

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if _, err := checkBatch(fresh, len(missTexts)); err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
		data, err := sonic.Marshal(fresh[j])
		if err != nil {
			continue
		}
		if err := c.kv.Set(ctx, keys[i], data, c.cfg.TTL).Err(); err != nil {
			c.log.Warn("cache write failed", "error", err)
		}
	}
	return out, nil
}

func (c *Cached) key(text string) string {
	h := sha256.Sum256([]byte(text))
	return c.cfg.KeyPrefix + c.cfg.Namespace + ":" + hex.EncodeToString(h[:])
}

// decode returns the cached vector at position i, or nil on a miss or a
// value that does not parse.
func (c *Cached) decode(vals []any, i int) []float32 {
	if i >= len(vals) || vals[i] == nil {
		return nil
	}
	s, ok := vals[i].(string)
	if !ok {
		return nil
	}
	var v []float32
	if err := sonic.UnmarshalString(s, &v); err != nil || len(v) == 0 {
		return nil
	}
	if dim := c.next.Dimension(); dim > 0 && len(v) != dim {
		return nil
	}
	return v
}
