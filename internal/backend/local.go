package backend

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Compile-time interface check.
var _ Backend = (*Local)(nil)

// Local is the local-filesystem backend. It is fully seekable and safe
// for parallel chunk streams against one file.
type Local struct{}

// NewLocal creates a local-disk backend.
func NewLocal() *Local { return &Local{} }

func (*Local) Stat(_ context.Context, path string) (FileStat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileStat{}, wrap("stat", path, err)
	}
	return fileInfoToStat(info), nil
}

func (*Local) List(_ context.Context, path string) ([]Entry, error) {
	dirents, err := os.ReadDir(path)
	if err != nil {
		return nil, wrap("list", path, err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			continue // entry vanished mid-listing
		}
		entries = append(entries, Entry{Name: d.Name(), Stat: fileInfoToStat(info)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (*Local) OpenRead(_ context.Context, path string, rng *ByteRange) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrap("open read", path, err)
	}
	if rng == nil {
		return f, nil
	}
	if _, err := f.Seek(rng.Offset, io.SeekStart); err != nil {
		f.Close()
		return nil, wrap("open read", path, err)
	}
	return &sectionReader{r: io.LimitReader(f, rng.Length), c: f}, nil
}

func (*Local) OpenWrite(_ context.Context, path string, offset int64) (io.WriteCloser, error) {
	if offset < 0 {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, wrap("open write", path, err)
		}
		return f, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return nil, wrap("open write", path, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, wrap("open write", path, err)
	}
	return f, nil
}

func (*Local) Truncate(_ context.Context, path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return wrap("truncate", path, err)
	}
	defer f.Close()
	preallocate(f, size)
	if err := f.Truncate(size); err != nil {
		return wrap("truncate", path, err)
	}
	return nil
}

func (*Local) MkdirAll(_ context.Context, path string) error {
	return wrap("mkdir", path, os.MkdirAll(path, 0o755))
}

func (*Local) Rename(_ context.Context, oldPath, newPath string) error {
	return wrap("rename", oldPath, os.Rename(oldPath, newPath))
}

func (*Local) Remove(_ context.Context, path string) error {
	return wrap("remove", path, os.Remove(path))
}

func (*Local) SetMeta(_ context.Context, path string, meta FileMeta) error {
	if err := os.Chmod(path, meta.Mode.Perm()); err != nil {
		return wrap("set meta", path, err)
	}
	if !meta.ModTime.IsZero() {
		if err := os.Chtimes(path, meta.ModTime, meta.ModTime); err != nil {
			return wrap("set meta", path, err)
		}
	}
	return nil
}

func (*Local) Join(elem ...string) string { return filepath.Join(elem...) }

func (*Local) Features() Capabilities {
	return Capabilities{Seek: true, Parallel: true, Permissions: true, MaxConns: 8}
}

func (*Local) Close() error { return nil }

func fileInfoToStat(info os.FileInfo) FileStat {
	return FileStat{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Mode:    info.Mode(),
		IsDir:   info.IsDir(),
		HasMode: true,
	}
}

// sectionReader bounds a seeked file to its chunk length while keeping
// the underlying handle closable.
type sectionReader struct {
	r io.Reader
	c io.Closer
}

func (s *sectionReader) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *sectionReader) Close() error               { return s.c.Close() }
