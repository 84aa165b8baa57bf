package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dgallion1/lexclass/internal/builder"
)

// JobStatus represents the state of an index rebuild job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusScanning  JobStatus = "scanning"
	StatusBuilding  JobStatus = "building"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusUnchanged JobStatus = "unchanged"
)

// Terminal reports whether no further transitions follow.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusUnchanged:
		return true
	}
	return false
}

// Job tracks one rebuild of the index.
type Job struct {
	mu sync.Mutex

	ID        string    `json:"job_id"`
	CorpusDir string    `json:"corpus_dir"`
	Force     bool      `json:"force"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`

	Progress    Progress         `json:"progress"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Summary     *builder.Summary `json:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	errors []string
}

// Progress tracks processing progress.
type Progress struct {
	DocumentsTotal int      `json:"documents_total"`
	DocumentsDone  int      `json:"documents_done"`
	Errors         []string `json:"errors"`
}

// NewJob returns a queued rebuild of corpusDir. Force rebuilds even when
// the corpus matches the last completed build.
func NewJob(corpusDir string, force bool) *Job {
	now := time.Now()
	return &Job{
		ID:        ulid.Make().String(),
		CorpusDir: corpusDir,
		Force:     force,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes finished jobs not touched within the TTL. Running jobs are
// kept however long they take.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		snap := job.Snapshot()
		if snap.Status.Terminal() && now.Sub(snap.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetProgress records how many corpus documents have been processed.
func (j *Job) SetProgress(done, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.DocumentsDone = done
	j.Progress.DocumentsTotal = total
	j.UpdatedAt = time.Now()
}

func (j *Job) SetFingerprint(fp string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Fingerprint = fp
}

func (j *Job) SetSummary(s builder.Summary) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Summary = &s
	j.UpdatedAt = time.Now()
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string           `json:"job_id"`
	CorpusDir   string           `json:"corpus_dir"`
	Force       bool             `json:"force"`
	Status      JobStatus        `json:"status"`
	Phase       string           `json:"phase"`
	Progress    Progress         `json:"progress"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Summary     *builder.Summary `json:"summary,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	var sum *builder.Summary
	if j.Summary != nil {
		s := *j.Summary
		sum = &s
	}
	return JobSnapshot{
		ID:        j.ID,
		CorpusDir: j.CorpusDir,
		Force:     j.Force,
		Status:    j.Status,
		Phase:     j.Phase,
		Progress: Progress{
			DocumentsTotal: j.Progress.DocumentsTotal,
			DocumentsDone:  j.Progress.DocumentsDone,
			Errors:         errs,
		},
		Fingerprint: j.Fingerprint,
		Summary:     sum,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
