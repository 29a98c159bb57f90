package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
)

// Kind is the closed set of transfer error categories. The engine decides
// retry-vs-fatal on Kind alone, without protocol-specific knowledge.
type Kind int

const (
	KindIo Kind = iota // catch-all transport/disk fault
	KindNotFound
	KindPermissionDenied
	KindConnectionFailed
	KindUnsupported // capability mismatch, e.g. ranged read on a stream-only backend
	KindIntegrityMismatch
	KindCancelled
)

var kindNames = [...]string{
	KindIo:                "io",
	KindNotFound:          "not found",
	KindPermissionDenied:  "permission denied",
	KindConnectionFailed:  "connection failed",
	KindUnsupported:       "unsupported operation",
	KindIntegrityMismatch: "integrity mismatch",
	KindCancelled:         "cancelled",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Retryable reports whether an error of this kind is worth another attempt.
// Integrity mismatches are never retried silently and capability mismatches
// cannot succeed on retry.
func (k Kind) Retryable() bool {
	switch k {
	case KindIo, KindConnectionFailed:
		return true
	default:
		return false
	}
}

// Error is a classified endpoint failure.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "open read"
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error with an explicit kind.
func NewError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf extracts the Kind from err, classifying bare OS and context
// errors that escaped a backend unwrapped. Unrecognized errors are KindIo.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return classify(err)
}

// wrap classifies err and attaches op/path context. A nil err returns nil;
// an already-classified err keeps its kind.
func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return &Error{Kind: be.Kind, Op: op, Path: path, Err: err}
	}
	return &Error{Kind: classify(err), Op: op, Path: path, Err: err}
}

func classify(err error) Kind {
	switch {
	case err == nil:
		return KindIo
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, os.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, os.ErrPermission):
		return KindPermissionDenied
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectionFailed
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnectionFailed
	}
	return KindIo
}

// errUnsupported builds the capability-mismatch error every backend
// returns for ranged access it cannot serve.
func errUnsupported(op, path string) error {
	return &Error{Kind: KindUnsupported, Op: op, Path: path}
}
