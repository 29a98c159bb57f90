package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/ferrydev/ferry/internal/backend"
)

// hashPath computes the hex BLAKE3 digest of a whole file through its
// backend.
func hashPath(ctx context.Context, be backend.Backend, path string) (string, error) {
	rc, err := be.OpenRead(ctx, path, nil)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return hashReader(rc)
}

func hashReader(r io.Reader) (string, error) {
	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// emptyHash is the digest of zero bytes, recorded for zero-length chunks.
func emptyHash() string {
	h := blake3.New()
	return hex.EncodeToString(h.Sum(nil))
}

// verifyFile re-reads both ends and compares whole-file digests. A
// mismatch is an IntegrityMismatch: surfaced, never silently retried,
// because a silent retry could mask a non-transient corruption source.
func verifyFile(ctx context.Context, src backend.Backend, srcPath string, dst backend.Backend, dstPath string) error {
	srcHash, err := hashPath(ctx, src, srcPath)
	if err != nil {
		return fmt.Errorf("verify source: %w", err)
	}
	dstHash, err := hashPath(ctx, dst, dstPath)
	if err != nil {
		return fmt.Errorf("verify destination: %w", err)
	}
	if srcHash != dstHash {
		return backend.NewError(backend.KindIntegrityMismatch, "verify", dstPath,
			fmt.Errorf("source %s != destination %s", srcHash[:16], dstHash[:16]))
	}
	return nil
}
