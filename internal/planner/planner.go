// Package planner splits a file into the byte-range chunks the worker
// pool transfers in parallel.
package planner

import (
	"runtime"

	"github.com/ferrydev/ferry/internal/backend"
)

// MinChunkSize is the floor below which parallel chunking is not worth
// the per-chunk overhead.
const MinChunkSize int64 = 4 << 20 // 4 MiB

// DefaultMaxChunks bounds auto-sized chunk counts.
const DefaultMaxChunks = 16

// State is the lifecycle of one chunk. It only advances
// Pending → InFlight → {Done, Failed}; a Failed chunk resets to Pending
// when retried.
type State uint8

const (
	Pending State = iota
	InFlight
	Done
	Failed
)

var stateNames = [...]string{"pending", "inflight", "done", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Chunk is one contiguous byte range of a file, the unit of parallel
// transfer. The chunk set for a file is ordered by offset and strictly
// partitions [0, size).
type Chunk struct {
	Index  int
	Offset int64
	Length int64
	Hash   string // hex blake3 of the chunk's bytes, set on completion
	State  State
}

// Plan produces the ordered chunk set for a file of totalBytes. target is
// the requested chunk count; target <= 0 selects automatic sizing. The
// count is forced to 1 whenever either endpoint lacks seekable or
// parallel-safe streams, and auto sizing never produces chunks smaller
// than MinChunkSize. The final chunk absorbs the integer-division
// remainder. totalBytes == 0 yields a single zero-length chunk.
func Plan(totalBytes int64, src, dst backend.Capabilities, target int) []Chunk {
	count := chunkCount(totalBytes, src, dst, target)

	if totalBytes == 0 {
		return []Chunk{{Index: 0, Offset: 0, Length: 0}}
	}

	chunks := make([]Chunk, count)
	per := totalBytes / int64(count)
	for i := range chunks {
		chunks[i] = Chunk{
			Index:  i,
			Offset: int64(i) * per,
			Length: per,
		}
	}
	last := &chunks[count-1]
	last.Length = totalBytes - last.Offset
	return chunks
}

func chunkCount(totalBytes int64, src, dst backend.Capabilities, target int) int {
	if !parallelOK(src) || !parallelOK(dst) {
		return 1
	}

	// An explicit target is honored; the size floor only constrains
	// automatic sizing.
	if target > 0 {
		return clampCount(target, totalBytes)
	}

	if totalBytes < MinChunkSize {
		return 1
	}

	n := min(DefaultMaxChunks, runtime.NumCPU())
	if src.MaxConns > 0 {
		n = min(n, src.MaxConns)
	}
	if dst.MaxConns > 0 {
		n = min(n, dst.MaxConns)
	}
	// Keep every chunk at least MinChunkSize.
	if maxUseful := totalBytes / MinChunkSize; int64(n) > maxUseful {
		n = int(maxUseful)
	}
	return clampCount(n, totalBytes)
}

func parallelOK(c backend.Capabilities) bool {
	return c.Seek && c.Parallel
}

func clampCount(n int, totalBytes int64) int {
	if n < 1 {
		return 1
	}
	if int64(n) > totalBytes {
		n = int(totalBytes)
	}
	if n < 1 {
		return 1
	}
	return n
}
