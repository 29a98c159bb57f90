package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrydev/ferry/internal/backend"
	"github.com/ferrydev/ferry/internal/planner"
)

func testChunks() []planner.Chunk {
	return []planner.Chunk{
		{Index: 0, Offset: 0, Length: 100},
		{Index: 1, Offset: 100, Length: 100},
		{Index: 2, Offset: 200, Length: 50},
	}
}

func testFingerprint() Fingerprint {
	return Fingerprint{SourcePath: "/src/file.bin", Size: 250, ModTimeNs: time.Now().UnixNano()}
}

func TestOpen_FreshSidecar(t *testing.T) {
	ctx := context.Background()
	be := backend.NewLocal()
	dst := filepath.Join(t.TempDir(), "file.bin")

	m, chunks, err := Open(ctx, be, dst, testFingerprint(), testChunks())
	require.NoError(t, err)

	assert.FileExists(t, m.Path())
	for _, c := range chunks {
		assert.Equal(t, planner.Pending, c.State)
	}
}

func TestOpen_ResumeSkipsDurablyDoneChunks(t *testing.T) {
	ctx := context.Background()
	be := backend.NewLocal()
	dst := filepath.Join(t.TempDir(), "file.bin")
	fp := testFingerprint()

	m, chunks, err := Open(ctx, be, dst, fp, testChunks())
	require.NoError(t, err)

	chunks[1].State = planner.Done
	chunks[1].Hash = "abc123"
	require.NoError(t, m.Update(ctx, chunks[1]))

	_, resumed, err := Open(ctx, be, dst, fp, testChunks())
	require.NoError(t, err)

	assert.Equal(t, planner.Pending, resumed[0].State)
	assert.Equal(t, planner.Done, resumed[1].State)
	assert.Equal(t, "abc123", resumed[1].Hash)
	assert.Equal(t, planner.Pending, resumed[2].State)
}

func TestOpen_InFlightFromCrashReruns(t *testing.T) {
	ctx := context.Background()
	be := backend.NewLocal()
	dst := filepath.Join(t.TempDir(), "file.bin")
	fp := testFingerprint()

	m, chunks, err := Open(ctx, be, dst, fp, testChunks())
	require.NoError(t, err)

	// Simulate a crash after a chunk was recorded InFlight but never
	// confirmed complete.
	chunks[0].State = planner.InFlight
	require.NoError(t, m.Update(ctx, chunks[0]))

	_, resumed, err := Open(ctx, be, dst, fp, testChunks())
	require.NoError(t, err)
	assert.Equal(t, planner.Pending, resumed[0].State)
}

func TestOpen_StaleFingerprintDiscardsCheckpoint(t *testing.T) {
	ctx := context.Background()
	be := backend.NewLocal()
	dst := filepath.Join(t.TempDir(), "file.bin")
	fp := testFingerprint()

	m, chunks, err := Open(ctx, be, dst, fp, testChunks())
	require.NoError(t, err)
	chunks[0].State = planner.Done
	chunks[0].Hash = "deadbeef"
	require.NoError(t, m.Update(ctx, chunks[0]))

	// Source mutated: size changed.
	stale := fp
	stale.Size += 1
	_, resumed, err := Open(ctx, be, dst, stale, testChunks())
	require.NoError(t, err)
	for _, c := range resumed {
		assert.Equal(t, planner.Pending, c.State, "stale checkpoint must never seed chunks")
	}
}

func TestOpen_LayoutMismatchDiscardsCheckpoint(t *testing.T) {
	ctx := context.Background()
	be := backend.NewLocal()
	dst := filepath.Join(t.TempDir(), "file.bin")
	fp := testFingerprint()

	m, chunks, err := Open(ctx, be, dst, fp, testChunks())
	require.NoError(t, err)
	chunks[0].State = planner.Done
	chunks[0].Hash = "deadbeef"
	require.NoError(t, m.Update(ctx, chunks[0]))

	other := []planner.Chunk{
		{Index: 0, Offset: 0, Length: 125},
		{Index: 1, Offset: 125, Length: 125},
	}
	_, resumed, err := Open(ctx, be, dst, fp, other)
	require.NoError(t, err)
	for _, c := range resumed {
		assert.Equal(t, planner.Pending, c.State)
	}
}

func TestOpen_CorruptSidecarTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	be := backend.NewLocal()
	dst := filepath.Join(t.TempDir(), "file.bin")

	p := SidecarPath(be, dst)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("not json{"), 0o644))

	_, resumed, err := Open(ctx, be, dst, testFingerprint(), testChunks())
	require.NoError(t, err)
	for _, c := range resumed {
		assert.Equal(t, planner.Pending, c.State)
	}
}

func TestUpdate_AtomicReplaceLeavesNoTemp(t *testing.T) {
	ctx := context.Background()
	be := backend.NewLocal()
	dst := filepath.Join(t.TempDir(), "file.bin")

	m, chunks, err := Open(ctx, be, dst, testFingerprint(), testChunks())
	require.NoError(t, err)
	for i := range chunks {
		chunks[i].State = planner.Done
		chunks[i].Hash = "h"
		require.NoError(t, m.Update(ctx, chunks[i]))
	}

	entries, err := os.ReadDir(filepath.Dir(m.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the sidecar itself should remain")
}

func TestDelete_RemovesSidecar(t *testing.T) {
	ctx := context.Background()
	be := backend.NewLocal()
	dst := filepath.Join(t.TempDir(), "file.bin")

	m, _, err := Open(ctx, be, dst, testFingerprint(), testChunks())
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx))
	assert.NoFileExists(t, m.Path())
}
