package engine

import (
	"runtime"
	"time"

	"github.com/ferrydev/ferry/internal/transform"
)

// ConflictPolicy decides what happens when the destination file already
// exists and no resumable checkpoint is present.
type ConflictPolicy int

const (
	// ConflictAsk defers to an interactive prompter. The engine has
	// none, so without one it degrades to skipping.
	ConflictAsk ConflictPolicy = iota
	ConflictOverwrite
	ConflictSkip
)

// RetryPolicy bounds per-chunk retries with exponential backoff.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// Options control a single transfer job. The zero value selects the
// documented defaults via withDefaults.
type Options struct {
	// ChunkCount requests an explicit chunk count; 0 lets the planner
	// size automatically.
	ChunkCount int

	// Workers bounds concurrent chunk tasks; 0 derives it from
	// available parallelism and the backends' recommended connections.
	Workers int

	// Verify enables the post-transfer whole-file hash comparison.
	Verify bool

	// BandwidthLimit caps aggregate throughput in bytes/sec; 0 is
	// unlimited. When set, transfers collapse to sequential chunks to
	// avoid contention on the shared limiter.
	BandwidthLimit int64

	// Compression selects the inline transform frame.
	Compression transform.Mode

	// Transform is the active frame algorithm; nil selects zstd.
	Transform transform.Transform

	Conflict ConflictPolicy
	Retry    RetryPolicy

	// StallTimeout converts a chunk that moves no bytes within the
	// window into a failure, subject to the normal retry budget.
	StallTimeout time.Duration

	// Preserve re-applies mode and mtime on backends that support
	// permission bits.
	Preserve bool

	// Strict promotes the first file failure to a whole-job abort.
	Strict bool
}

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 500 * time.Millisecond
	defaultStallTimeout  = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.Retry.Attempts <= 0 {
		o.Retry.Attempts = defaultRetryAttempts
	}
	if o.Retry.BaseDelay <= 0 {
		o.Retry.BaseDelay = defaultRetryBase
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = defaultStallTimeout
	}
	if o.Transform == nil {
		o.Transform = transform.Zstd{}
	}
	return o
}
