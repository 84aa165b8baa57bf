// Package app wires the configured components together for the server and
// the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/milvus-io/milvus/client/v2/milvusclient"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dgallion1/lexclass/internal/builder"
	"github.com/dgallion1/lexclass/internal/chunker"
	"github.com/dgallion1/lexclass/internal/classifier"
	"github.com/dgallion1/lexclass/internal/config"
	"github.com/dgallion1/lexclass/internal/embedding"
	"github.com/dgallion1/lexclass/internal/index"
	"github.com/dgallion1/lexclass/internal/metrics"
	"github.com/dgallion1/lexclass/internal/parser"
)

// ErrNoIndex means no index has been built yet.
var ErrNoIndex = errors.New("no index has been built")

// App holds the long-lived components of one process.
type App struct {
	Config     config.Config
	Log        *slog.Logger
	Metrics    *metrics.Metrics
	Extractor  *parser.Extractor
	Chunker    *chunker.Chunker
	Embedder   embedding.Embedder
	Builder    *builder.Builder
	Publisher  builder.Publisher
	Classifier *classifier.Classifier

	// EmbeddingStats is nil for embedders that do not call a remote API.
	EmbeddingStats *embedding.Stats

	redis  *goredis.Client
	milvus *milvusclient.Client
}

// New validates cfg and builds every component. It does not load an index;
// call OpenIndex for that.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	a := &App{Config: cfg, Log: log, Metrics: m}

	ch, err := chunker.New(cfg.ChunkerConfig())
	if err != nil {
		return nil, err
	}
	a.Chunker = ch
	a.Extractor = parser.NewExtractor(cfg.ParserOptions(), log)

	if err := a.initEmbedder(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Builder = builder.New(a.Extractor, ch, a.Embedder, cfg.Data.BuildWorkers, log, m)
	a.Classifier, err = classifier.New(ch, a.Embedder, nil, cfg.ClassifierConfig(), log,
		classifier.WithExtractor(a.Extractor),
		classifier.WithMetrics(m),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initEmbedder(ctx context.Context) error {
	cfg := a.Config.Embedding
	var base embedding.Embedder
	switch cfg.Provider {
	case "hash":
		base = embedding.NewHashing(cfg.Dimension)
	case "openai":
		oa, err := embedding.NewOpenAI(a.Config.OpenAIConfig(), a.Log)
		if err != nil {
			return err
		}
		a.EmbeddingStats = oa.Stats
		base = oa
	default:
		return fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	a.Embedder = base

	if a.Config.Redis.Addr == "" {
		return nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.Log.Warn("redis unavailable, embedding cache disabled", "addr", a.Config.Redis.Addr, "error", err)
		rdb.Close()
		return nil
	}
	a.redis = rdb
	a.Embedder = embedding.NewCached(base, rdb, embedding.CacheConfig{
		TTL:       a.Config.Redis.TTL,
		Namespace: cacheNamespace(cfg),
	}, a.Log)
	a.Log.Info("embedding cache enabled", "addr", a.Config.Redis.Addr)
	return nil
}

// cacheNamespace keeps vectors of different models and sizes apart.
func cacheNamespace(cfg config.EmbeddingConfig) string {
	name := cfg.Provider
	if cfg.Provider == "openai" {
		name = cfg.Model
	}
	return strings.ToLower(fmt.Sprintf("%s-%d", name, cfg.Dimension))
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.Config.Index.Backend {
	case "milvus":
		c, err := index.DialMilvus(ctx, a.Config.MilvusConnection())
		if err != nil {
			return err
		}
		a.milvus = c
		a.Publisher = builder.MilvusPublisher{
			Client:      c,
			Prefix:      a.Config.Milvus.Prefix,
			PointerPath: a.Config.Milvus.PointerFile,
			Log:         a.Log,
		}
	default:
		a.Publisher = builder.FlatPublisher{Files: a.Config.IndexFiles()}
	}
	return nil
}

// OpenIndex loads the persisted index of the configured backend. It returns
// ErrNoIndex when nothing has been built yet; a half-present or inconsistent
// index is an error of its own.
func (a *App) OpenIndex(ctx context.Context) (index.Index, error) {
	switch a.Config.Index.Backend {
	case "milvus":
		ptr, err := index.ReadPointer(a.Config.Milvus.PointerFile)
		if err != nil {
			if isNotExist(err) {
				return nil, ErrNoIndex
			}
			return nil, err
		}
		return index.OpenMilvus(ctx, a.milvus, ptr)
	default:
		files := a.Config.IndexFiles()
		if !fileExists(files.IndexPath) && !fileExists(files.MetaPath) {
			return nil, ErrNoIndex
		}
		return index.Load(files)
	}
}

// LoadIndex opens the persisted index and attaches it to the classifier.
func (a *App) LoadIndex(ctx context.Context) (index.Index, error) {
	idx, err := a.OpenIndex(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.Classifier.SwapIndex(idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Close releases network clients.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.milvus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.milvus.Close(ctx))
	}
	return errors.Join(errs...)
}
