package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/dgallion1/lexclass/internal/api"
	"github.com/dgallion1/lexclass/internal/app"
	"github.com/dgallion1/lexclass/internal/config"
	"github.com/dgallion1/lexclass/internal/index"
	"github.com/dgallion1/lexclass/internal/metrics"
	"github.com/dgallion1/lexclass/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(os.Getenv("LEXCLASS_CONFIG"))
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	a, err := app.New(ctx, cfg, log, m)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// A missing index is fine: the first rebuild creates one. A broken one
	// is not.
	idx, err := a.LoadIndex(ctx)
	switch {
	case errors.Is(err, app.ErrNoIndex):
		log.Warn("no index found, classification unavailable until a rebuild", "backend", cfg.Index.Backend)
	case errors.Is(err, index.ErrCorruptIndex):
		log.Error("load index", "error", err, "hint", "run `lexclass build-index` to write a fresh index pair")
		os.Exit(1)
	case err != nil:
		log.Error("load index", "error", err)
		os.Exit(1)
	default:
		log.Info("index loaded", "vectors", idx.Len(), "dimension", idx.Dimension())
	}

	// Initialize rebuild pipeline.
	orch := pipeline.NewOrchestrator(pipeline.Config{
		QueueSize: cfg.Server.QueueSize,
		JobTTL:    cfg.Server.JobTTL,
	}, a.Builder, a.Publisher, a.Classifier.SwapIndex, log, m)
	orch.Start(ctx)

	srv := api.NewServer(api.Deps{
		Classifier:     a.Classifier,
		Extractor:      a.Extractor,
		Rebuilds:       orch,
		Metrics:        m,
		EmbeddingStats: a.EmbeddingStats,
		EmbeddingModel: cfg.Embedding.Model,
	}, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		// Stop accepting rebuild requests before closing the queue.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
	}()

	log.Info("starting lexclass", "port", cfg.Server.Port, "backend", cfg.Index.Backend, "embedding", cfg.Embedding.Provider)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-stopped
}
