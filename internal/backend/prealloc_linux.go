//go:build linux

package backend

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate attempts to pre-allocate disk space ahead of chunked writes.
// Errors are ignored as fallocate is not supported on all filesystems.
func preallocate(fd *os.File, size int64) {
	if size <= 0 {
		return
	}
	//nolint:errcheck // fallocate is advisory; not supported on all filesystems
	unix.Fallocate(int(fd.Fd()), 0, 0, size)
}
