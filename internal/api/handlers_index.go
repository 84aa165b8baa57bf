package api

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/lexclass/internal/index"
	"github.com/dgallion1/lexclass/internal/pipeline"
)

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	idx := s.deps.Classifier.Index()
	if idx == nil {
		jsonError(w, "no index loaded", http.StatusServiceUnavailable)
		return
	}
	var rng *rand.Rand
	if r.URL.Query().Get("sample") == "true" {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	writeJSON(w, http.StatusOK, index.Describe(idx, rng))
}

type rebuildRequest struct {
	Force bool `json:"force"`
}

// handleRebuild queues a rebuild of the configured corpus. The corpus root
// is never taken from the request.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rebuilds == nil {
		jsonError(w, "rebuilds are disabled", http.StatusServiceUnavailable)
		return
	}

	var req rebuildRequest
	if r.Body != nil {
		err := sonic.ConfigDefault.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	job := pipeline.NewJob(s.cfg.Data.DataDir, req.Force)
	if err := s.deps.Rebuilds.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   pipeline.StatusQueued,
		"poll_url": fmt.Sprintf("/api/index/rebuild/%s", job.ID),
	})
}

func (s *Server) handleRebuildStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rebuilds == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	job := s.deps.Rebuilds.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}
