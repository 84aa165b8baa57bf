package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/lexclass/internal/builder"
	"github.com/dgallion1/lexclass/internal/chunker"
	"github.com/dgallion1/lexclass/internal/embedding"
	"github.com/dgallion1/lexclass/internal/index"
	"github.com/dgallion1/lexclass/internal/parser"
)

type swapRecorder struct {
	mu    sync.Mutex
	swaps []index.Index
	err   error
}

func (s *swapRecorder) swap(idx index.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.swaps = append(s.swaps, idx)
	return nil
}

func (s *swapRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.swaps)
}

func writeDoc(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestOrchestrator(t *testing.T, sw *swapRecorder) (*Orchestrator, string) {
	t.Helper()
	root := t.TempDir()
	writeDoc(t, root, "wyroki/a.txt", strings.Repeat("sąd oddala apelację pozwanego ", 10))
	writeDoc(t, root, "umowy/b.txt", strings.Repeat("umowa najmu lokalu czynsz ", 10))

	ch, err := chunker.New(chunker.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	b := builder.New(parser.NewExtractor(parser.DefaultOptions(), nil), ch, embedding.NewHashing(32), 2, nil, nil)
	out := t.TempDir()
	pub := builder.FlatPublisher{Files: index.Files{
		IndexPath: filepath.Join(out, "knn_index.bin"),
		MetaPath:  filepath.Join(out, "knn_metadata.json"),
	}}

	o := NewOrchestrator(Config{QueueSize: 2}, b, pub, sw.swap, nil, nil)
	o.Start(context.Background())
	t.Cleanup(o.Stop)
	return o, root
}

func waitTerminal(t *testing.T, job *Job) JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap := job.Snapshot()
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish, last status %q", job.ID, job.Snapshot().Status)
	return JobSnapshot{}
}

func TestOrchestrator_RebuildSwapsIndex(t *testing.T) {
	sw := &swapRecorder{}
	o, root := newTestOrchestrator(t, sw)

	job := NewJob(root, false)
	if err := o.Submit(job); err != nil {
		t.Fatal(err)
	}
	snap := waitTerminal(t, job)

	if snap.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q (errors %v)", snap.Status, snap.Progress.Errors)
	}
	if snap.Summary == nil || snap.Summary.Indexed != 2 {
		t.Fatalf("expected 2 indexed documents, got %+v", snap.Summary)
	}
	if snap.Progress.DocumentsDone != 2 || snap.Progress.DocumentsTotal != 2 {
		t.Errorf("expected progress 2/2, got %d/%d", snap.Progress.DocumentsDone, snap.Progress.DocumentsTotal)
	}
	if sw.count() != 1 {
		t.Errorf("expected one swap, got %d", sw.count())
	}
	if o.GetJob(job.ID) != job {
		t.Error("expected job to be retrievable by ID")
	}
}

func TestOrchestrator_SubmitAfterStop(t *testing.T) {
	sw := &swapRecorder{}
	o, root := newTestOrchestrator(t, sw)

	o.Stop()
	o.Stop()

	job := NewJob(root, false)
	if err := o.Submit(job); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if got := job.Snapshot().Status; got != StatusFailed {
		t.Errorf("expected failed job, got %q", got)
	}
	if o.GetJob(job.ID) != nil {
		t.Error("rejected job should not be stored")
	}
}

func TestOrchestrator_UnchangedCorpusSkipped(t *testing.T) {
	sw := &swapRecorder{}
	o, root := newTestOrchestrator(t, sw)

	first := NewJob(root, false)
	if err := o.Submit(first); err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, first)

	second := NewJob(root, false)
	if err := o.Submit(second); err != nil {
		t.Fatal(err)
	}
	if snap := waitTerminal(t, second); snap.Status != StatusUnchanged {
		t.Errorf("expected unchanged, got %q", snap.Status)
	}

	forced := NewJob(root, true)
	if err := o.Submit(forced); err != nil {
		t.Fatal(err)
	}
	if snap := waitTerminal(t, forced); snap.Status != StatusCompleted {
		t.Errorf("expected forced rebuild to complete, got %q", snap.Status)
	}
	if sw.count() != 2 {
		t.Errorf("expected two swaps, got %d", sw.count())
	}
}

func TestOrchestrator_FailedSwapFailsJob(t *testing.T) {
	sw := &swapRecorder{err: errors.New("dimension mismatch")}
	o, root := newTestOrchestrator(t, sw)

	job := NewJob(root, false)
	if err := o.Submit(job); err != nil {
		t.Fatal(err)
	}
	snap := waitTerminal(t, job)
	if snap.Status != StatusFailed || snap.Phase != "swapping" {
		t.Errorf("expected failure while swapping, got %q/%q", snap.Status, snap.Phase)
	}
	if len(snap.Progress.Errors) != 1 {
		t.Errorf("expected one recorded error, got %v", snap.Progress.Errors)
	}
}

func TestOrchestrator_MissingCorpusFails(t *testing.T) {
	o, _ := newTestOrchestrator(t, &swapRecorder{})

	job := NewJob(filepath.Join(t.TempDir(), "missing"), false)
	if err := o.Submit(job); err != nil {
		t.Fatal(err)
	}
	if snap := waitTerminal(t, job); snap.Status != StatusFailed || snap.Phase != "scanning" {
		t.Errorf("expected failure while scanning, got %q/%q", snap.Status, snap.Phase)
	}
}

func TestFingerprint_ChangesWithCorpus(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "a/x.txt", "one")

	docs, err := builder.Walk(root)
	if err != nil {
		t.Fatal(err)
	}
	fp1, err := Fingerprint(docs)
	if err != nil {
		t.Fatal(err)
	}
	fp2, _ := Fingerprint(docs)
	if fp1 != fp2 {
		t.Error("expected stable fingerprint")
	}

	writeDoc(t, root, "b/y.txt", "two")
	docs, _ = builder.Walk(root)
	fp3, _ := Fingerprint(docs)
	if fp3 == fp1 {
		t.Error("expected fingerprint to change when a document is added")
	}
}
