package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/lexclass/internal/classifier"
	"github.com/dgallion1/lexclass/internal/config"
	"github.com/dgallion1/lexclass/internal/embedding"
	"github.com/dgallion1/lexclass/internal/metrics"
	"github.com/dgallion1/lexclass/internal/parser"
	"github.com/dgallion1/lexclass/internal/pipeline"
)

// Deps are the components the handlers call into. Rebuilds and
// EmbeddingStats are optional.
type Deps struct {
	Classifier     *classifier.Classifier
	Extractor      *parser.Extractor
	Rebuilds       *pipeline.Orchestrator
	Metrics        *metrics.Metrics
	EmbeddingStats *embedding.Stats
	EmbeddingModel string
}

// Server is the HTTP API server for lexclass.
type Server struct {
	router chi.Router
	deps   Deps
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(deps Deps, log *slog.Logger, cfg config.Config) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		deps: deps,
		log:  log,
		cfg:  cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.Server.APIKey, s.log))

		r.Post("/api/classify", s.handleClassify)
		r.Post("/api/classify/text", s.handleClassifyText)
		r.Post("/api/extract", s.handleExtract)

		r.Get("/api/index/stats", s.handleIndexStats)
		r.Post("/api/index/rebuild", s.handleRebuild)
		r.Get("/api/index/rebuild/{jobID}", s.handleRebuildStatus)

		r.Get("/api/stats/embedding", s.handleEmbeddingStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"index_loaded": s.deps.Classifier != nil && s.deps.Classifier.Index() != nil,
	})
}
