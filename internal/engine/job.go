package engine

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ferrydev/ferry/internal/backend"
	"github.com/ferrydev/ferry/internal/checkpoint"
	"github.com/ferrydev/ferry/internal/progress"
)

// JobState is the job-level lifecycle.
type JobState int

const (
	Planning JobState = iota
	Transferring
	Verifying
	Complete
	JobFailed
)

var jobStateNames = [...]string{"planning", "transferring", "verifying", "complete", "failed"}

func (s JobState) String() string {
	if int(s) < len(jobStateNames) {
		return jobStateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool { return s == Complete || s == JobFailed }

// Job is one submitted transfer, independently owned: nothing outside
// the engine mutates it except through chunk state transitions and
// checkpoint persistence.
type Job struct {
	id     Handle
	spec   JobSpec
	opts   Options
	log    *slog.Logger
	agg    *progress.Aggregator
	lim    *rate.Limiter
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  JobState
	result TransferResult

	// Sidecar managers held open for deferred deletion when whole-file
	// verification is enabled.
	pending map[string]*checkpoint.Manager
}

func newJob(id Handle, spec JobSpec, log *slog.Logger) *Job {
	opts := spec.Options.withDefaults()
	j := &Job{
		id:      id,
		spec:    spec,
		opts:    opts,
		log:     log.With("job", string(id)),
		agg:     progress.NewAggregator(),
		done:    make(chan struct{}),
		result:  newTransferResult(),
		pending: make(map[string]*checkpoint.Manager),
	}
	if opts.BandwidthLimit > 0 {
		j.lim = newBWLimiter(opts.BandwidthLimit)
	}
	return j
}

// State returns the current lifecycle state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Result returns a copy of the accumulated outcome.
func (j *Job) Result() TransferResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

func (j *Job) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// fileItem is one planned file of the job. rel is empty for a
// single-file transfer.
type fileItem struct {
	rel     string
	srcPath string
	dstPath string
	stat    backend.FileStat
}

func (j *Job) run(ctx context.Context) {
	defer close(j.done)
	defer j.agg.Close()

	j.setState(Planning)
	j.publish(progress.Event{Type: progress.JobStarted})

	files, err := j.plan(ctx)
	if err != nil {
		j.failFile(j.spec.SrcPath, err)
		j.finish()
		return
	}

	var totalBytes int64
	for _, f := range files {
		totalBytes += f.stat.Size
	}
	j.agg.AddTotals(int64(len(files)), totalBytes)

	j.setState(Transferring)
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		j.transferOne(ctx, f)
		if j.opts.Strict && len(j.Result().Failed) > 0 {
			j.log.Warn("strict mode: aborting after first failure")
			break
		}
	}
	if err := ctx.Err(); err != nil {
		j.failUnfinished(files, err)
	}

	j.setState(Verifying)
	j.verifyPhase(ctx, files)

	j.finish()
}

// plan resolves the file set. Directory enumeration is deterministic:
// listings are name-sorted and traversal is depth-first.
func (j *Job) plan(ctx context.Context) ([]fileItem, error) {
	st, err := j.spec.Src.Stat(ctx, j.spec.SrcPath)
	if err != nil {
		return nil, err
	}

	if !st.IsDir {
		dstPath := j.spec.DstPath
		// Copying a file into an existing directory targets a child.
		if dstStat, err := j.spec.Dst.Stat(ctx, dstPath); err == nil && dstStat.IsDir {
			dstPath = j.spec.Dst.Join(dstPath, baseName(j.spec.SrcPath))
		}
		return []fileItem{{srcPath: j.spec.SrcPath, dstPath: dstPath, stat: st}}, nil
	}

	if err := j.spec.Dst.MkdirAll(ctx, j.spec.DstPath); err != nil {
		return nil, err
	}

	var files []fileItem
	var walk func(rel string) error
	walk = func(rel string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		srcDir := j.spec.Src.Join(j.spec.SrcPath, rel)
		entries, err := j.spec.Src.List(ctx, srcDir)
		if err != nil {
			// An unreadable subtree fails its files, not the job.
			label := rel
			if label == "" {
				label = j.spec.SrcPath
			}
			j.failFile(label, err)
			return nil
		}
		for _, e := range entries {
			childRel := joinRel(rel, e.Name)
			if e.Stat.IsDir {
				if err := j.spec.Dst.MkdirAll(ctx, j.spec.Dst.Join(j.spec.DstPath, childRel)); err != nil {
					j.failFile(childRel, err)
					continue
				}
				if err := walk(childRel); err != nil {
					return err
				}
				continue
			}
			files = append(files, fileItem{
				rel:     childRel,
				srcPath: j.spec.Src.Join(srcDir, e.Name),
				dstPath: j.spec.Dst.Join(j.spec.DstPath, childRel),
				stat:    e.Stat,
			})
		}
		return nil
	}
	if err := walk(""); err != nil {
		return files, nil // cancelled mid-walk; transfer what was found
	}
	return files, nil
}

// transferOne moves a single file, recording its outcome. A failure here
// never aborts sibling files.
func (j *Job) transferOne(ctx context.Context, f fileItem) {
	label := f.rel
	if label == "" {
		label = f.srcPath
	}

	skip, err := j.shouldSkip(ctx, f)
	if err == nil && skip {
		j.log.Debug("skipping existing destination", "path", label)
		j.publish(progress.Event{Type: progress.FileSkipped, Path: label})
		j.mu.Lock()
		j.result.Skipped = append(j.result.Skipped, label)
		j.mu.Unlock()
		return
	}

	j.publish(progress.Event{Type: progress.FileStarted, Path: label})

	bytes, mgr, err := j.transferFile(ctx, f)
	j.mu.Lock()
	j.result.BytesTransferred += bytes
	j.mu.Unlock()
	if err != nil {
		j.log.Warn("file transfer failed", "path", label, "kind", backend.KindOf(err).String(), "error", err)
		j.failFile(label, err)
		j.publish(progress.Event{Type: progress.FileFailed, Path: label, Error: err})
		return
	}

	if j.opts.Verify {
		// Hold the sidecar until whole-file verification passes.
		j.pending[label] = mgr
	} else if mgr != nil {
		if err := mgr.Delete(ctx); err != nil {
			j.log.Debug("checkpoint cleanup failed", "path", label, "error", err)
		}
	}

	j.mu.Lock()
	j.result.Succeeded = append(j.result.Succeeded, label)
	j.mu.Unlock()
	j.publish(progress.Event{Type: progress.FileCompleted, Path: label, BytesDelta: f.stat.Size})
}

// shouldSkip applies the conflict policy: an existing destination with no
// resumable checkpoint is only rewritten under ConflictOverwrite. The
// Ask policy degrades to skip because the engine carries no prompter.
func (j *Job) shouldSkip(ctx context.Context, f fileItem) (bool, error) {
	if j.opts.Conflict == ConflictOverwrite {
		return false, nil
	}
	if _, err := j.spec.Dst.Stat(ctx, f.dstPath); err != nil {
		return false, nil // no destination, nothing to conflict with
	}
	// A sidecar means an interrupted transfer: resume it instead of
	// skipping a half-written file.
	sidecar := checkpoint.SidecarPath(j.spec.Dst, f.dstPath)
	if _, err := j.spec.Dst.Stat(ctx, sidecar); err == nil {
		return false, nil
	}
	return true, nil
}

// verifyPhase re-reads both ends of every succeeded file when enabled,
// comparing whole-file hashes. A mismatch surfaces as IntegrityMismatch
// and the checkpoint is left in place for inspection.
func (j *Job) verifyPhase(ctx context.Context, files []fileItem) {
	if !j.opts.Verify {
		return
	}
	j.publish(progress.Event{Type: progress.VerifyStarted})

	byLabel := make(map[string]fileItem, len(files))
	for _, f := range files {
		label := f.rel
		if label == "" {
			label = f.srcPath
		}
		byLabel[label] = f
	}

	succeeded := j.Result().Succeeded
	var kept []string
	for _, label := range succeeded {
		if ctx.Err() != nil {
			kept = append(kept, label)
			continue
		}
		f := byLabel[label]
		err := verifyFile(ctx, j.spec.Src, f.srcPath, j.spec.Dst, f.dstPath)
		if err != nil {
			j.log.Error("verification failed", "path", label, "error", err)
			j.failFile(label, err)
			j.publish(progress.Event{Type: progress.VerifyFailed, Path: label, Error: err})
			continue
		}
		if mgr := j.pending[label]; mgr != nil {
			_ = mgr.Delete(ctx)
			delete(j.pending, label)
		}
		kept = append(kept, label)
		j.publish(progress.Event{Type: progress.VerifyOK, Path: label})
	}

	j.mu.Lock()
	j.result.Succeeded = kept
	j.mu.Unlock()
}

// failUnfinished records every planned file a cancelled job never
// reached, so interruption is visible in the result instead of the
// remainder silently counting as success.
func (j *Job) failUnfinished(files []fileItem, cause error) {
	j.mu.Lock()
	accounted := make(map[string]bool, len(j.result.Succeeded)+len(j.result.Skipped)+len(j.result.Failed))
	for _, label := range j.result.Succeeded {
		accounted[label] = true
	}
	for _, label := range j.result.Skipped {
		accounted[label] = true
	}
	for label := range j.result.Failed {
		accounted[label] = true
	}
	j.mu.Unlock()

	for _, f := range files {
		label := f.rel
		if label == "" {
			label = f.srcPath
		}
		if accounted[label] {
			continue
		}
		j.failFile(label, cause)
		j.publish(progress.Event{Type: progress.FileFailed, Path: label, Error: cause})
	}
	if len(files) == 0 && len(accounted) == 0 {
		// Cancelled before enumeration produced anything.
		j.failFile(j.spec.SrcPath, cause)
	}
}

func (j *Job) finish() {
	outcome := j.Result().Outcome()
	if outcome == Success {
		j.setState(Complete)
	} else {
		j.setState(JobFailed)
	}
	j.log.Info("job finished", "outcome", outcome.String())
	j.publish(progress.Event{Type: progress.JobCompleted})
}

func (j *Job) failFile(path string, err error) {
	j.mu.Lock()
	j.result.Failed[path] = err
	j.mu.Unlock()
}

func (j *Job) publish(e progress.Event) {
	e.JobID = string(j.id)
	j.agg.Publish(e)
}

func joinRel(rel, name string) string {
	switch {
	case rel == "":
		return name
	case name == "":
		return rel
	default:
		return rel + "/" + name
	}
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
