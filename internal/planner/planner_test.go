package planner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrydev/ferry/internal/backend"
)

var (
	capsFull   = backend.Capabilities{Seek: true, Parallel: true, MaxConns: 8}
	capsStream = backend.Capabilities{Seek: false, Parallel: false, MaxConns: 1}
)

// requirePartition asserts the chunks strictly partition [0, total).
func requirePartition(t *testing.T, chunks []Chunk, total int64) {
	t.Helper()
	require.NotEmpty(t, chunks)

	var next int64
	var sum int64
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, next, c.Offset, "chunk %d offset", i)
		require.GreaterOrEqual(t, c.Length, int64(0))
		next = c.Offset + c.Length
		sum += c.Length
	}
	assert.Equal(t, total, sum, "lengths must sum to total")
	assert.Equal(t, total, next, "last chunk must end at total")
}

func TestPlan_PartitionProperty(t *testing.T) {
	sizes := []int64{1, 2, 4095, 4096, 1 << 20, 10 << 20, (10 << 20) + 1, 123456789}
	targets := []int{1, 2, 3, 4, 7, 16}

	for _, size := range sizes {
		for _, target := range targets {
			t.Run(fmt.Sprintf("size=%d/target=%d", size, target), func(t *testing.T) {
				chunks := Plan(size, capsFull, capsFull, target)
				requirePartition(t, chunks, size)
			})
		}
	}
}

func TestPlan_RemainderAbsorption(t *testing.T) {
	// 10 MiB over 3 chunks does not divide evenly: the last chunk
	// absorbs the leftover bytes from integer division.
	const total = 10 << 20
	chunks := Plan(total, capsFull, capsFull, 3)
	require.Len(t, chunks, 3)
	requirePartition(t, chunks, total)

	per := int64(total / 3)
	assert.Equal(t, per, chunks[0].Length)
	assert.Equal(t, per, chunks[1].Length)
	assert.Equal(t, total-2*per, chunks[2].Length)
	assert.Greater(t, chunks[2].Length, chunks[1].Length)
}

func TestPlan_StreamOnlyForcesSingleChunk(t *testing.T) {
	cases := []struct {
		name     string
		src, dst backend.Capabilities
	}{
		{"stream source", capsStream, capsFull},
		{"stream destination", capsFull, capsStream},
		{"both stream", capsStream, capsStream},
		{"seek without parallel", backend.Capabilities{Seek: true, Parallel: false}, capsFull},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks := Plan(100<<20, tc.src, tc.dst, 8)
			require.Len(t, chunks, 1)
			requirePartition(t, chunks, 100<<20)
		})
	}
}

func TestPlan_ZeroBytes(t *testing.T) {
	chunks := Plan(0, capsFull, capsFull, 4)
	require.Len(t, chunks, 1)
	assert.Equal(t, int64(0), chunks[0].Offset)
	assert.Equal(t, int64(0), chunks[0].Length)
}

func TestPlan_SmallFileSingleChunk(t *testing.T) {
	// Below the minimum useful chunk size, parallelism is overhead.
	chunks := Plan(MinChunkSize-1, capsFull, capsFull, 0)
	require.Len(t, chunks, 1)
}

func TestPlan_AutoRespectsConnectionBound(t *testing.T) {
	src := backend.Capabilities{Seek: true, Parallel: true, MaxConns: 2}
	chunks := Plan(1<<30, src, capsFull, 0)
	assert.LessOrEqual(t, len(chunks), 2)
	requirePartition(t, chunks, 1<<30)
}

func TestPlan_AutoKeepsChunksAboveFloor(t *testing.T) {
	chunks := Plan(9<<20, capsFull, capsFull, 0)
	requirePartition(t, chunks, 9<<20)
	for _, c := range chunks {
		assert.GreaterOrEqual(t, c.Length, MinChunkSize)
	}
}

func TestPlan_ExplicitTargetBelowFloor(t *testing.T) {
	// The minimum chunk size only constrains automatic sizing; an
	// explicitly requested count is honored on small files too.
	const total = 1 << 20
	chunks := Plan(total, capsFull, capsFull, 4)
	require.Len(t, chunks, 4)
	requirePartition(t, chunks, total)
}

func TestPlan_ExplicitTargetClampedToSize(t *testing.T) {
	// More chunks than bytes would produce empty chunks.
	chunks := Plan(10, capsFull, capsFull, 100)
	requirePartition(t, chunks, 10)
	require.Len(t, chunks, 10)
	for _, c := range chunks {
		assert.Greater(t, c.Length, int64(0))
	}
}
