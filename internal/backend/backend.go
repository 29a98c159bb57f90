// Package backend defines the protocol-agnostic endpoint contract the
// transfer engine runs against, plus implementations for local disk,
// SFTP, and WebDAV.
package backend

import (
	"context"
	"io"
	"os"
	"time"
)

// FileStat is an immutable metadata snapshot of a single entry, taken at
// transfer start and re-queried only on resume to detect source mutation.
type FileStat struct {
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
	IsDir   bool
	HasMode bool // false when the protocol carries no permission bits
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string // base name, no separators
	Stat FileStat
}

// ByteRange selects a half-open slice [Offset, Offset+Length) of a file.
type ByteRange struct {
	Offset int64
	Length int64
}

// Capabilities describes what an endpoint supports. Queried once per
// backend instance; the planner collapses to a single sequential chunk
// when either side lacks Seek or Parallel.
type Capabilities struct {
	Seek        bool // ranged reads and positional writes
	Parallel    bool // safe to run concurrent streams against one file
	Permissions bool // mode bits round-trip through Stat/SetMeta
	MaxConns    int  // recommended upper bound on concurrent streams
}

// FileMeta carries the metadata SetMeta applies after a transfer.
type FileMeta struct {
	Mode    os.FileMode
	ModTime time.Time
}

// Backend is the capability interface implemented once per protocol. The
// engine holds an opaque Backend and never branches on protocol identity.
//
// OpenRead with a non-nil range and OpenWrite with offset >= 0 are only
// valid when Features().Seek is true; otherwise they fail with
// KindUnsupported. OpenWrite with offset < 0 opens a whole-file stream
// that truncates any existing content.
type Backend interface {
	Stat(ctx context.Context, path string) (FileStat, error)
	List(ctx context.Context, path string) ([]Entry, error)
	OpenRead(ctx context.Context, path string, rng *ByteRange) (io.ReadCloser, error)
	OpenWrite(ctx context.Context, path string, offset int64) (io.WriteCloser, error)

	// Truncate pre-sizes path to size bytes, creating it if absent, so
	// positional chunk writes are well-defined.
	Truncate(ctx context.Context, path string, size int64) error

	MkdirAll(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Remove(ctx context.Context, path string) error
	SetMeta(ctx context.Context, path string, meta FileMeta) error

	// Join combines path elements using the backend's separator rules.
	Join(elem ...string) string

	Features() Capabilities
	Close() error
}

// Syncer is implemented by write sinks that can force buffered data to
// stable storage. The checkpoint manager probes for it before renaming a
// sidecar into place.
type Syncer interface {
	Sync() error
}
