// Package checkpoint persists per-chunk completion state in a sidecar
// record next to the destination file, so an interrupted transfer resumes
// without re-transferring completed work.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/google/uuid"

	"github.com/ferrydev/ferry/internal/backend"
	"github.com/ferrydev/ferry/internal/planner"
)

const (
	// FormatVersion is bumped on any incompatible sidecar layout change.
	FormatVersion = 1

	stateDir      = ".ferry-state"
	sidecarSuffix = ".ferryck"
)

// Fingerprint identifies the source file a checkpoint was written
// against. Any mismatch on resume invalidates the whole checkpoint.
type Fingerprint struct {
	SourcePath string `json:"source_path"`
	Size       int64  `json:"size"`
	ModTimeNs  int64  `json:"mtime_unix_nano"`
}

// FingerprintOf derives the identity fingerprint from a live source stat.
func FingerprintOf(sourcePath string, st backend.FileStat) Fingerprint {
	return Fingerprint{
		SourcePath: sourcePath,
		Size:       st.Size,
		ModTimeNs:  st.ModTime.UnixNano(),
	}
}

// Record is the on-disk sidecar layout.
type Record struct {
	Version     int          `json:"version"`
	Fingerprint Fingerprint  `json:"fingerprint"`
	Chunks      []chunkEntry `json:"chunks"`
}

type chunkEntry struct {
	Index  int    `json:"index"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
	State  string `json:"state"`
	Hash   string `json:"hash,omitempty"`
}

// Manager owns the sidecar for one in-flight destination file. All
// persisted writes funnel through its mutex, so concurrent chunk
// completions never interleave on disk.
type Manager struct {
	be   backend.Backend
	path string

	mu  sync.Mutex
	rec Record
}

// SidecarPath returns the sidecar location for a destination file: a
// hidden state directory alongside the destination.
func SidecarPath(be backend.Backend, dstPath string) string {
	dir, base := path.Split(toSlashPath(dstPath))
	return be.Join(dir, stateDir, base+sidecarSuffix)
}

// toSlashPath normalizes separators enough to split on; backends join
// with their own rules afterwards.
func toSlashPath(p string) string {
	out := []byte(p)
	for i := range out {
		if out[i] == '\\' {
			out[i] = '/'
		}
	}
	return string(out)
}

// Open loads any prior checkpoint for dstPath and reconciles it with the
// freshly planned chunk set. When the stored fingerprint and chunk layout
// match, completed chunks are seeded as Done (resume); otherwise the
// stale record is discarded and the transfer starts from scratch. The
// reconciled chunk set is returned alongside the manager; the initial
// record is durably written before any chunk runs.
func Open(ctx context.Context, be backend.Backend, dstPath string, fp Fingerprint, chunks []planner.Chunk) (*Manager, []planner.Chunk, error) {
	m := &Manager{be: be, path: SidecarPath(be, dstPath)}

	seeded := make([]planner.Chunk, len(chunks))
	copy(seeded, chunks)

	if prior, err := m.load(ctx); err == nil && prior != nil {
		if prior.Version == FormatVersion && prior.Fingerprint == fp && layoutMatches(prior.Chunks, chunks) {
			for i, e := range prior.Chunks {
				// Only durably recorded completions are trusted. A
				// chunk left InFlight by a crash never confirmed
				// completion, so it re-runs like a failed one.
				if e.State == planner.Done.String() && e.Hash != "" {
					seeded[i].State = planner.Done
					seeded[i].Hash = e.Hash
				}
			}
		}
	}

	m.rec = Record{
		Version:     FormatVersion,
		Fingerprint: fp,
		Chunks:      toEntries(seeded),
	}
	if err := m.flushLocked(ctx); err != nil {
		return nil, nil, err
	}
	return m, seeded, nil
}

// Update durably records a chunk state transition. For Done chunks this
// must complete before the chunk is acknowledged to the rest of the
// system: a chunk is only skippable on resume once its completion hit
// stable storage.
func (m *Manager) Update(ctx context.Context, c planner.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Index < 0 || c.Index >= len(m.rec.Chunks) {
		return fmt.Errorf("checkpoint: chunk index %d out of range", c.Index)
	}
	m.rec.Chunks[c.Index].State = c.State.String()
	m.rec.Chunks[c.Index].Hash = c.Hash
	return m.flushLocked(ctx)
}

// Delete removes the sidecar after whole-file success.
func (m *Manager) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.be.Remove(ctx, m.path)
}

// Path returns the sidecar location.
func (m *Manager) Path() string { return m.path }

func (m *Manager) load(ctx context.Context) (*Record, error) {
	rc, err := m.be.OpenRead(ctx, m.path, nil)
	if err != nil {
		if backend.KindOf(err) == backend.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", m.path, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt sidecar is treated as absent; the transfer
		// restarts from scratch.
		return nil, nil
	}
	return &rec, nil
}

// flushLocked writes the record to a temp name, forces it to storage
// where the backend can, and renames it into place so a reader never
// observes a half-written sidecar. Callers hold m.mu.
func (m *Manager) flushLocked(ctx context.Context) error {
	data, err := json.Marshal(m.rec)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dir, base := path.Split(toSlashPath(m.path))
	if err := m.be.MkdirAll(ctx, dir); err != nil {
		return fmt.Errorf("checkpoint dir: %w", err)
	}

	tmp := m.be.Join(dir, fmt.Sprintf(".%s.%s.tmp", base, uuid.New().String()[:8]))
	w, err := m.be.OpenWrite(ctx, tmp, -1)
	if err != nil {
		return fmt.Errorf("create checkpoint temp: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		_ = m.be.Remove(ctx, tmp)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if s, ok := w.(backend.Syncer); ok {
		if err := s.Sync(); err != nil {
			w.Close()
			_ = m.be.Remove(ctx, tmp)
			return fmt.Errorf("sync checkpoint: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		_ = m.be.Remove(ctx, tmp)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := m.be.Rename(ctx, tmp, m.path); err != nil {
		_ = m.be.Remove(ctx, tmp)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

func layoutMatches(entries []chunkEntry, chunks []planner.Chunk) bool {
	if len(entries) != len(chunks) {
		return false
	}
	for i, c := range chunks {
		if entries[i].Offset != c.Offset || entries[i].Length != c.Length {
			return false
		}
	}
	return true
}

func toEntries(chunks []planner.Chunk) []chunkEntry {
	entries := make([]chunkEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = chunkEntry{
			Index:  c.Index,
			Offset: c.Offset,
			Length: c.Length,
			State:  c.State.String(),
			Hash:   c.Hash,
		}
	}
	return entries
}
