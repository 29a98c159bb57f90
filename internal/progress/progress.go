// Package progress aggregates per-chunk transfer events into cumulative
// counters and a lossy, bounded event stream for presentation layers.
// Progress is best-effort observability, never a correctness path:
// producers are never blocked by a slow consumer.
package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// eventBuffer bounds the event queue; on overflow the oldest unread
	// event is dropped rather than exerting backpressure on workers.
	eventBuffer = 256

	ringSize = 60
)

// Type identifies the kind of event.
type Type int

const (
	JobStarted Type = iota + 1
	FileStarted
	ChunkProgress
	ChunkDone
	FileCompleted
	FileFailed
	FileSkipped
	VerifyStarted
	VerifyOK
	VerifyFailed
	JobCompleted
)

var typeNames = [...]string{
	JobStarted:    "JobStarted",
	FileStarted:   "FileStarted",
	ChunkProgress: "ChunkProgress",
	ChunkDone:     "ChunkDone",
	FileCompleted: "FileCompleted",
	FileFailed:    "FileFailed",
	FileSkipped:   "FileSkipped",
	VerifyStarted: "VerifyStarted",
	VerifyOK:      "VerifyOK",
	VerifyFailed:  "VerifyFailed",
	JobCompleted:  "JobCompleted",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is a single transient progress report. Events are not persisted
// and arrive in no particular order across chunks.
type Event struct {
	Type       Type
	Timestamp  time.Time
	JobID      string
	Path       string // file path relative to the job root
	ChunkIndex int
	BytesDelta int64
	Error      error
}

// Snapshot is a point-in-time read of the aggregate counters, usable by
// any presentation layer without blocking producers.
type Snapshot struct {
	BytesTransferred int64
	BytesTotal       int64
	FilesDone        int64
	FilesFailed      int64
	FilesSkipped     int64
	FilesTotal       int64
	Elapsed          time.Duration
	Rate             float64 // bytes/sec over the recent sample window
}

// Aggregator collects events from every worker into one ordered stream
// plus lock-free cumulative counters.
type Aggregator struct {
	events chan Event

	bytesTransferred atomic.Int64
	bytesTotal       atomic.Int64
	filesDone        atomic.Int64
	filesFailed      atomic.Int64
	filesSkipped     atomic.Int64
	filesTotal       atomic.Int64
	startTime        time.Time

	// Throughput ring buffer, written only by Tick().
	mu        sync.Mutex
	ring      [ringSize]int64
	ringIdx   int
	ringCount int
	lastBytes int64
	lastTick  time.Time
}

// NewAggregator creates an aggregator with its start time set to now.
func NewAggregator() *Aggregator {
	return &Aggregator{
		events:    make(chan Event, eventBuffer),
		startTime: time.Now(),
		lastTick:  time.Now(),
	}
}

// Events returns the single-consumer event stream. It is closed by
// Close once the owning job reaches a terminal state.
func (a *Aggregator) Events() <-chan Event { return a.events }

// Publish stamps and enqueues an event, updating cumulative counters.
// When the queue is full the oldest unread event is coalesced away so
// the producer never blocks.
func (a *Aggregator) Publish(e Event) {
	e.Timestamp = time.Now()

	switch e.Type {
	case ChunkProgress, ChunkDone:
		a.bytesTransferred.Add(e.BytesDelta)
	case FileCompleted:
		a.filesDone.Add(1)
	case FileFailed:
		a.filesFailed.Add(1)
	case FileSkipped:
		a.filesSkipped.Add(1)
	}

	select {
	case a.events <- e:
	default:
		// Queue full: drop the oldest unread event, then retry once.
		select {
		case <-a.events:
		default:
		}
		select {
		case a.events <- e:
		default:
		}
	}
}

// AddTotals records planned totals discovered during enumeration.
func (a *Aggregator) AddTotals(files, bytes int64) {
	a.filesTotal.Add(files)
	a.bytesTotal.Add(bytes)
}

// Close ends the event stream. The owner must guarantee no Publish calls
// follow.
func (a *Aggregator) Close() { close(a.events) }

// Tick samples the byte delta since the previous call into the rate
// ring. Presenters call it on their own cadence, typically 1/sec.
func (a *Aggregator) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	cur := a.bytesTransferred.Load()
	elapsed := now.Sub(a.lastTick).Seconds()
	if elapsed <= 0 {
		return
	}
	a.ring[a.ringIdx] = int64(float64(cur-a.lastBytes) / elapsed)
	a.ringIdx = (a.ringIdx + 1) % ringSize
	if a.ringCount < ringSize {
		a.ringCount++
	}
	a.lastBytes = cur
	a.lastTick = now
}

// Snapshot returns the current cumulative state. Rate is the mean of the
// sampled window, falling back to the whole-run average before the first
// Tick.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		BytesTransferred: a.bytesTransferred.Load(),
		BytesTotal:       a.bytesTotal.Load(),
		FilesDone:        a.filesDone.Load(),
		FilesFailed:      a.filesFailed.Load(),
		FilesSkipped:     a.filesSkipped.Load(),
		FilesTotal:       a.filesTotal.Load(),
		Elapsed:          time.Since(a.startTime),
	}

	a.mu.Lock()
	if a.ringCount > 0 {
		var sum int64
		for i := 0; i < a.ringCount; i++ {
			sum += a.ring[i]
		}
		s.Rate = float64(sum) / float64(a.ringCount)
	}
	a.mu.Unlock()

	if s.Rate == 0 && s.Elapsed > 0 {
		s.Rate = float64(s.BytesTransferred) / s.Elapsed.Seconds()
	}
	return s
}
