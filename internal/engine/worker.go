package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/ferrydev/ferry/internal/backend"
	"github.com/ferrydev/ferry/internal/checkpoint"
	"github.com/ferrydev/ferry/internal/planner"
	"github.com/ferrydev/ferry/internal/progress"
	"github.com/ferrydev/ferry/internal/transform"
)

// copyBufSize is the buffered-copy granularity; cancellation and stall
// checks happen once per buffer.
const copyBufSize = 256 << 10

// transferFile moves one file chunk-by-chunk. It returns the bytes
// written, plus the checkpoint manager so the caller can defer sidecar
// deletion until verification. On error the sidecar is preserved for a
// later resume.
func (j *Job) transferFile(ctx context.Context, f fileItem) (int64, *checkpoint.Manager, error) {
	srcCaps := j.spec.Src.Features()
	dstCaps := j.spec.Dst.Features()

	target := j.opts.ChunkCount
	if j.lim != nil {
		// A shared token bucket across parallel chunks trades
		// throughput for contention; collapse to sequential.
		target = 1
	}
	chunks := planner.Plan(f.stat.Size, srcCaps, dstCaps, target)

	fp := checkpoint.FingerprintOf(f.srcPath, f.stat)
	mgr, chunks, err := checkpoint.Open(ctx, j.spec.Dst, f.dstPath, fp, chunks)
	if err != nil {
		return 0, nil, err
	}

	var incomplete []int
	for i := range chunks {
		if chunks[i].State != planner.Done {
			incomplete = append(incomplete, i)
		}
	}
	if len(incomplete) == 0 {
		return 0, mgr, nil // fully recorded by a prior run
	}

	// Ranged reads and positional writes only make sense with more than
	// one chunk; a single chunk streams the whole file.
	ranged := len(chunks) > 1

	if err := j.prepareDestination(ctx, f, ranged); err != nil {
		return 0, mgr, err
	}

	var written atomic.Int64
	var mu sync.Mutex
	var firstErr error

	workers := j.chunkWorkers(len(incomplete), srcCaps, dstCaps)
	taskCh := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskCh {
				if ctx.Err() != nil {
					continue
				}
				n, err := j.runChunk(ctx, f, mgr, &chunks[idx], ranged)
				written.Add(n)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}
	for _, idx := range incomplete {
		taskCh <- idx
	}
	close(taskCh)
	wg.Wait()

	if firstErr != nil {
		return written.Load(), mgr, firstErr
	}
	if err := ctx.Err(); err != nil {
		return written.Load(), mgr, err
	}

	if j.opts.Preserve && dstCaps.Permissions && f.stat.HasMode {
		if err := j.spec.Dst.SetMeta(ctx, f.dstPath, backend.FileMeta{
			Mode:    f.stat.Mode,
			ModTime: f.stat.ModTime,
		}); err != nil {
			j.log.Debug("preserve metadata failed", "path", f.dstPath, "error", err)
		}
	}
	return written.Load(), mgr, nil
}

// prepareDestination ensures the parent directory exists and, for ranged
// mode, pre-sizes the file so disjoint positional writes are
// well-defined. Truncating to the final length is idempotent on resume.
func (j *Job) prepareDestination(ctx context.Context, f fileItem, ranged bool) error {
	if dir := parentDir(f.dstPath); dir != "" {
		if err := j.spec.Dst.MkdirAll(ctx, dir); err != nil {
			return err
		}
	}
	if ranged {
		return j.spec.Dst.Truncate(ctx, f.dstPath, f.stat.Size)
	}
	return nil
}

// chunkWorkers bounds the pool by the configured limit and both
// backends' recommended connection counts.
func (j *Job) chunkWorkers(tasks int, src, dst backend.Capabilities) int {
	n := j.opts.Workers
	if src.MaxConns > 0 {
		n = min(n, src.MaxConns)
	}
	if dst.MaxConns > 0 {
		n = min(n, dst.MaxConns)
	}
	n = min(n, tasks)
	if n < 1 {
		n = 1
	}
	return n
}

// runChunk executes one chunk task under the retry budget. Every state
// transition is durably recorded; Done is only acknowledged after the
// checkpoint write lands.
func (j *Job) runChunk(ctx context.Context, f fileItem, mgr *checkpoint.Manager, c *planner.Chunk, ranged bool) (int64, error) {
	var total int64
	delay := j.opts.Retry.BaseDelay

	for attempt := 1; ; attempt++ {
		c.State = planner.InFlight
		if err := mgr.Update(ctx, *c); err != nil {
			c.State = planner.Failed
			return total, err
		}

		n, err := j.copyChunk(ctx, f, c, ranged)
		total += n
		if err == nil {
			c.State = planner.Done
			if err := mgr.Update(ctx, *c); err != nil {
				// Completion that was never durably recorded is not a
				// completion.
				c.State = planner.Failed
				return total, err
			}
			j.publish(progress.Event{Type: progress.ChunkDone, Path: f.rel, ChunkIndex: c.Index})
			return total, nil
		}

		c.State = planner.Failed
		c.Hash = ""
		_ = mgr.Update(ctx, *c)

		kind := backend.KindOf(err)
		if !kind.Retryable() || attempt >= j.opts.Retry.Attempts || ctx.Err() != nil {
			return total, err
		}

		j.log.Debug("retrying chunk",
			"path", f.dstPath, "chunk", c.Index, "attempt", attempt, "kind", kind.String(), "error", err)
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// copyChunk streams one chunk's bytes: ranged read → stall watchdog →
// bandwidth limiter → transform frame → hash tee → positional write.
func (j *Job) copyChunk(ctx context.Context, f fileItem, c *planner.Chunk, ranged bool) (int64, error) {
	if c.Length == 0 {
		if ranged {
			return 0, nil
		}
		// Zero-byte file: create the empty destination.
		w, err := j.spec.Dst.OpenWrite(ctx, f.dstPath, -1)
		if err != nil {
			return 0, err
		}
		c.Hash = emptyHash()
		return 0, w.Close()
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var rc io.ReadCloser
	var err error
	if ranged {
		rc, err = j.spec.Src.OpenRead(ctx, f.srcPath, &backend.ByteRange{Offset: c.Offset, Length: c.Length})
	} else {
		rc, err = j.spec.Src.OpenRead(ctx, f.srcPath, nil)
	}
	if err != nil {
		return 0, err
	}

	var wc io.WriteCloser
	if ranged {
		wc, err = j.spec.Dst.OpenWrite(ctx, f.dstPath, c.Offset)
	} else {
		wc, err = j.spec.Dst.OpenWrite(ctx, f.dstPath, -1)
	}
	if err != nil {
		rc.Close()
		return 0, err
	}

	watch := newStallWatch(rc, j.opts.StallTimeout)
	watch.start(attemptCtx)

	var r io.Reader = watch
	if j.lim != nil {
		r = &rateLimitedReader{r: r, limiter: j.lim, ctx: attemptCtx}
	}
	if transform.Enabled(j.opts.Compression, f.srcPath) {
		tp := transform.Pipe(j.opts.Transform, r)
		defer tp.Close()
		r = tp
	}
	hasher := blake3.New()
	r = io.TeeReader(r, hasher)

	written, copyErr := j.copyLoop(attemptCtx, f, c.Index, wc, r)

	cancel()
	rc.Close()
	if cerr := wc.Close(); copyErr == nil {
		copyErr = cerr
	}
	if watch.Stalled() {
		return written, fmt.Errorf("chunk %d: no bytes transferred for %s", c.Index, j.opts.StallTimeout)
	}
	if copyErr != nil {
		return written, copyErr
	}
	if written != c.Length {
		return written, fmt.Errorf("chunk %d: short transfer, %d of %d bytes", c.Index, written, c.Length)
	}
	c.Hash = hex.EncodeToString(hasher.Sum(nil))
	return written, nil
}

// copyLoop is the buffered copy with a cancellation check before every
// read, so an in-flight task stops within one buffer-read latency.
func (j *Job) copyLoop(ctx context.Context, f fileItem, chunkIndex int, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if wn > 0 {
				j.publish(progress.Event{
					Type:       progress.ChunkProgress,
					Path:       f.rel,
					ChunkIndex: chunkIndex,
					BytesDelta: int64(wn),
				})
			}
			if werr != nil {
				return written, werr
			}
			if wn != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// stallWatch tracks read activity and force-closes the source stream
// when no bytes move within the timeout, converting a hung read into an
// ordinary retryable chunk failure.
type stallWatch struct {
	rc      io.ReadCloser
	timeout time.Duration
	last    atomic.Int64
	stalled atomic.Bool
}

func newStallWatch(rc io.ReadCloser, timeout time.Duration) *stallWatch {
	w := &stallWatch{rc: rc, timeout: timeout}
	w.last.Store(time.Now().UnixNano())
	return w
}

func (w *stallWatch) Read(p []byte) (int, error) {
	n, err := w.rc.Read(p)
	if n > 0 {
		w.last.Store(time.Now().UnixNano())
	}
	return n, err
}

func (w *stallWatch) Stalled() bool { return w.stalled.Load() }

func (w *stallWatch) start(ctx context.Context) {
	if w.timeout <= 0 {
		return
	}
	interval := w.timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				idle := time.Since(time.Unix(0, w.last.Load()))
				if idle >= w.timeout {
					w.stalled.Store(true)
					w.rc.Close() // unblocks the pending read
					return
				}
			}
		}
	}()
}

func parentDir(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[:i]
		}
	}
	return ""
}
