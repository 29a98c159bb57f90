// Package engine executes transfer jobs: it plans byte-range chunks,
// runs them on a bounded worker pool, records durable checkpoints for
// resume, and verifies content integrity.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ferrydev/ferry/internal/backend"
	"github.com/ferrydev/ferry/internal/progress"
)

// Handle identifies a submitted job.
type Handle string

// JobSpec describes one transfer: already-resolved, already-authenticated
// source and destination backends plus a path on each.
type JobSpec struct {
	Src     backend.Backend
	SrcPath string
	Dst     backend.Backend
	DstPath string
	Options Options
}

// Engine owns submitted jobs for its lifetime. Submission does not block
// the caller; progress and completion arrive asynchronously through the
// aggregator and Result.
type Engine struct {
	log *slog.Logger

	mu   sync.Mutex
	jobs map[Handle]*Job
}

// New creates an engine. A nil logger falls back to slog's default.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		log:  logger,
		jobs: make(map[Handle]*Job),
	}
}

// Submit validates spec and starts the job asynchronously.
func (e *Engine) Submit(ctx context.Context, spec JobSpec) (Handle, error) {
	if spec.Src == nil || spec.Dst == nil {
		return "", fmt.Errorf("submit: source and destination backends are required")
	}
	if spec.SrcPath == "" || spec.DstPath == "" {
		return "", fmt.Errorf("submit: source and destination paths are required")
	}

	h := Handle(uuid.New().String())
	job := newJob(h, spec, e.log)

	e.mu.Lock()
	e.jobs[h] = job
	e.mu.Unlock()

	jobCtx, cancel := context.WithCancel(ctx)
	job.cancel = cancel
	go job.run(jobCtx)

	return h, nil
}

// Subscribe returns the job's finite progress stream. The channel closes
// when the job reaches a terminal state.
func (e *Engine) Subscribe(h Handle) (<-chan progress.Event, error) {
	job, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	return job.agg.Events(), nil
}

// Progress returns a non-blocking snapshot of the job's counters.
func (e *Engine) Progress(h Handle) (progress.Snapshot, error) {
	job, err := e.lookup(h)
	if err != nil {
		return progress.Snapshot{}, err
	}
	return job.agg.Snapshot(), nil
}

// State returns the job's current lifecycle state.
func (e *Engine) State(h Handle) (JobState, error) {
	job, err := e.lookup(h)
	if err != nil {
		return 0, err
	}
	return job.State(), nil
}

// Cancel signals the job to stop. In-flight chunk tasks stop within one
// buffer-read latency; the checkpoint stays at its last durably-recorded
// state so a later invocation resumes.
func (e *Engine) Cancel(h Handle) error {
	job, err := e.lookup(h)
	if err != nil {
		return err
	}
	job.cancel()
	return nil
}

// Result blocks until the job is terminal (or ctx expires) and returns
// its accumulated per-file outcome.
func (e *Engine) Result(ctx context.Context, h Handle) (TransferResult, error) {
	job, err := e.lookup(h)
	if err != nil {
		return TransferResult{}, err
	}
	select {
	case <-ctx.Done():
		return TransferResult{}, ctx.Err()
	case <-job.done:
	}
	return job.Result(), nil
}

func (e *Engine) lookup(h Handle) (*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[h]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", h)
	}
	return job, nil
}
