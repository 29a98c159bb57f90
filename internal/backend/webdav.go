package backend

import (
	"context"
	"io"
	"net/http"
	"path"
	"sort"

	"github.com/studio-b12/gowebdav"
)

// Compile-time interface check.
var _ Backend = (*WebDAV)(nil)

// WebDAV is a remote backend over HTTP PROPFIND/GET/PUT. A PUT replaces
// the whole resource, so positional writes are impossible: the profile is
// stream-only and the planner collapses every transfer to one sequential
// chunk. Ranged GETs are still served for callers that probe them.
type WebDAV struct {
	client *gowebdav.Client
}

// NewWebDAV wraps an already-authenticated gowebdav client. Credential
// handling is the caller's responsibility.
func NewWebDAV(client *gowebdav.Client) *WebDAV {
	return &WebDAV{client: client}
}

func (b *WebDAV) Stat(_ context.Context, p string) (FileStat, error) {
	info, err := b.client.Stat(p)
	if err != nil {
		return FileStat{}, wrapDAV("stat", p, err)
	}
	return FileStat{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
		HasMode: false,
	}, nil
}

func (b *WebDAV) List(_ context.Context, p string) ([]Entry, error) {
	infos, err := b.client.ReadDir(p)
	if err != nil {
		return nil, wrapDAV("list", p, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Name: info.Name(),
			Stat: FileStat{Size: info.Size(), ModTime: info.ModTime(), IsDir: info.IsDir()},
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (b *WebDAV) OpenRead(_ context.Context, p string, rng *ByteRange) (io.ReadCloser, error) {
	if rng != nil {
		rc, err := b.client.ReadStreamRange(p, rng.Offset, rng.Length)
		if err != nil {
			return nil, wrapDAV("open read", p, err)
		}
		return rc, nil
	}
	rc, err := b.client.ReadStream(p)
	if err != nil {
		return nil, wrapDAV("open read", p, err)
	}
	return rc, nil
}

func (b *WebDAV) OpenWrite(_ context.Context, p string, offset int64) (io.WriteCloser, error) {
	if offset >= 0 {
		return nil, errUnsupported("open write", p)
	}
	pr, pw := io.Pipe()
	w := &davWriteFile{pw: pw, done: make(chan error, 1)}
	go func() {
		err := b.client.WriteStream(p, pr, 0o644)
		// Unblock the writer if the PUT failed mid-stream.
		pr.CloseWithError(err)
		w.done <- wrapDAV("write", p, err)
	}()
	return w, nil
}

func (b *WebDAV) Truncate(_ context.Context, p string, _ int64) error {
	return errUnsupported("truncate", p)
}

func (b *WebDAV) MkdirAll(_ context.Context, p string) error {
	return wrapDAV("mkdir", p, b.client.MkdirAll(p, 0o755))
}

func (b *WebDAV) Rename(_ context.Context, oldPath, newPath string) error {
	return wrapDAV("rename", oldPath, b.client.Rename(oldPath, newPath, true))
}

func (b *WebDAV) Remove(_ context.Context, p string) error {
	return wrapDAV("remove", p, b.client.Remove(p))
}

func (b *WebDAV) SetMeta(_ context.Context, p string, _ FileMeta) error {
	return errUnsupported("set meta", p)
}

func (*WebDAV) Join(elem ...string) string { return path.Join(elem...) }

func (*WebDAV) Features() Capabilities {
	return Capabilities{Seek: false, Parallel: false, Permissions: false, MaxConns: 1}
}

func (*WebDAV) Close() error { return nil }

// davWriteFile adapts gowebdav's reader-driven WriteStream to the
// io.WriteCloser contract. Close returns the final PUT status.
type davWriteFile struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *davWriteFile) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *davWriteFile) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

func wrapDAV(op, p string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case gowebdav.IsErrNotFound(err):
		return NewError(KindNotFound, op, p, err)
	case gowebdav.IsErrCode(err, http.StatusUnauthorized), gowebdav.IsErrCode(err, http.StatusForbidden):
		return NewError(KindPermissionDenied, op, p, err)
	case gowebdav.IsErrCode(err, http.StatusBadGateway), gowebdav.IsErrCode(err, http.StatusServiceUnavailable):
		return NewError(KindConnectionFailed, op, p, err)
	}
	return wrap(op, p, err)
}
