// Package transform is the inline byte-pipeline slot between a chunk's
// read and write streams. Chunk bytes pass through the transform's wire
// framing and come out identical; this is where a compression or
// encryption frame is inserted.
package transform

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Mode selects whether the compression frame is applied.
type Mode int

const (
	// Auto compresses unless the file extension marks content that is
	// already compressed.
	Auto Mode = iota
	Off
	On
)

// skipExtensions marks content that re-compresses poorly enough that the
// frame is pure overhead.
var skipExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".zip": true, ".rar": true, ".7z": true, ".gz": true, ".zst": true, ".lz4": true,
	".mp3": true, ".flac": true, ".aac": true, ".ogg": true,
	".apk": true, ".iso": true,
}

// Enabled reports whether the compression frame applies to path under
// the given mode.
func Enabled(mode Mode, path string) bool {
	switch mode {
	case On:
		return true
	case Off:
		return false
	default:
		ext := strings.ToLower(filepath.Ext(path))
		return !skipExtensions[ext]
	}
}

// Transform frames a byte stream on the way in and unframes it on the
// way out.
type Transform interface {
	Name() string
	Encode(dst io.Writer) io.WriteCloser
	Decode(src io.Reader) io.Reader
}

// Zstd is the default compression frame.
type Zstd struct{}

func (Zstd) Name() string { return "zstd" }

func (Zstd) Encode(dst io.Writer) io.WriteCloser {
	w, _ := zstd.NewWriter(dst) // cannot fail without options
	return w
}

func (Zstd) Decode(src io.Reader) io.Reader {
	r, _ := zstd.NewReader(src) // cannot fail without options
	return r.IOReadCloser()
}

// LZ4 is the lighter block-streaming frame for CPU-bound links.
type LZ4 struct{}

func (LZ4) Name() string { return "lz4" }

func (LZ4) Encode(dst io.Writer) io.WriteCloser { return lz4.NewWriter(dst) }

func (LZ4) Decode(src io.Reader) io.Reader { return lz4.NewReader(src) }

// ForName resolves an algorithm name to its transform.
//
//nolint:ireturn // factory returns interface by design
func ForName(name string) (Transform, error) {
	switch name {
	case "", "zstd":
		return Zstd{}, nil
	case "lz4":
		return LZ4{}, nil
	}
	return nil, fmt.Errorf("unknown compression algorithm %q (want zstd or lz4)", name)
}

// Pipe returns a reader yielding t.Decode(t.Encode(r)): the stream
// crosses the transform's framing in flight and emerges byte-identical.
// Callers that stop reading before EOF must Close the result; closing
// unblocks the encode goroutine and releases the decoder.
//
//nolint:ireturn // pipeline stage returns its reader by design
func Pipe(t Transform, r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		enc := t.Encode(pw)
		_, err := io.Copy(enc, r)
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	return &pipe{r: t.Decode(pr), pr: pr}
}

type pipe struct {
	r  io.Reader
	pr *io.PipeReader
}

func (p *pipe) Read(b []byte) (int, error) { return p.r.Read(b) }

// Close tears the pipe down: the encoder's next write fails instead of
// blocking forever on a consumer that went away.
func (p *pipe) Close() error {
	p.pr.CloseWithError(io.ErrClosedPipe)
	if c, ok := p.r.(io.Closer); ok {
		c.Close()
	}
	return nil
}
