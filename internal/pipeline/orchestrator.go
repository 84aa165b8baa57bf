package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/lexclass/internal/builder"
	"github.com/dgallion1/lexclass/internal/index"
	"github.com/dgallion1/lexclass/internal/metrics"
)

// ErrStopped is returned by Submit once Stop has been called.
var ErrStopped = errors.New("rebuild pipeline is stopped")

// Config sizes the rebuild queue.
type Config struct {
	QueueSize int
	JobTTL    time.Duration
}

// SwapFunc activates a freshly built index.
type SwapFunc func(index.Index) error

// Orchestrator runs index rebuilds in the background, one at a time, and
// hands each finished index to swap. Classification keeps reading the old
// index until the swap.
type Orchestrator struct {
	jobs      *JobStore
	queue     chan *Job
	builder   *builder.Builder
	publisher builder.Publisher
	swap      SwapFunc
	log       *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config

	mu              sync.Mutex
	lastFingerprint string
	stopped         bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the rebuild pipeline. Call Start to run it.
func NewOrchestrator(cfg Config, b *builder.Builder, pub builder.Publisher, swap SwapFunc, log *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = time.Hour
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		jobs:      NewJobStore(cfg.JobTTL),
		queue:     make(chan *Job, cfg.QueueSize),
		builder:   b,
		publisher: pub,
		swap:      swap,
		log:       log.With("component", "rebuild"),
		metrics:   m,
		cfg:       cfg,
	}
}

// Start launches the single rebuild worker and the job cleanup loop.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case <-workerCtx.Done():
				return
			case job, ok := <-o.queue:
				if !ok {
					return
				}
				o.process(workerCtx, job)
			}
		}
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels a running rebuild and waits for the workers to exit. Later
// calls are no-ops.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit queues a rebuild job. It fails with ErrStopped after Stop.
func (o *Orchestrator) Submit(job *Job) error {
	// The queue is closed under mu, so the send below cannot race it.
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		job.SetStatus(StatusFailed, "stopped")
		return ErrStopped
	}
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("rebuild queue is full (%d)", o.cfg.QueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// SetFingerprint records the corpus state the active index was built from,
// so an identical rebuild request can be skipped.
func (o *Orchestrator) SetFingerprint(fp string) {
	o.mu.Lock()
	o.lastFingerprint = fp
	o.mu.Unlock()
}

func (o *Orchestrator) fingerprint() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastFingerprint
}

// process runs one rebuild: scan, compare with the last build, build,
// publish and swap.
func (o *Orchestrator) process(ctx context.Context, job *Job) {
	log := o.log.With("job_id", job.ID, "corpus", job.CorpusDir)
	fail := func(phase string, err error) {
		log.Error("rebuild failed", "phase", phase, "error", err)
		job.AddError(fmt.Sprintf("%s: %s", phase, err))
		job.SetStatus(StatusFailed, phase)
		o.metrics.ObserveRebuild(string(StatusFailed))
	}

	job.SetStatus(StatusScanning, "scanning")
	docs, err := builder.Walk(job.CorpusDir)
	if err != nil {
		fail("scanning", err)
		return
	}
	fp, err := Fingerprint(docs)
	if err != nil {
		fail("scanning", err)
		return
	}
	job.SetFingerprint(fp)
	job.SetProgress(0, len(docs))

	if !job.Force && fp == o.fingerprint() {
		log.Info("corpus unchanged, skipping rebuild")
		job.SetStatus(StatusUnchanged, "done")
		o.metrics.ObserveRebuild(string(StatusUnchanged))
		return
	}

	job.SetStatus(StatusBuilding, "embedding")
	sum, idx, err := o.builder.WithProgress(job.SetProgress).Build(ctx, docs, o.publisher)
	if err != nil {
		fail("building", err)
		return
	}
	job.SetSummary(sum)

	if o.swap != nil {
		if err := o.swap(idx); err != nil {
			fail("swapping", err)
			return
		}
	}
	o.SetFingerprint(fp)

	log.Info("rebuild complete", "build_id", sum.BuildID, "vectors", sum.Vectors)
	job.SetStatus(StatusCompleted, "done")
	o.metrics.ObserveRebuild(string(StatusCompleted))
}
