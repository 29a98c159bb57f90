package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"wrapped error struct", NewError(KindIntegrityMismatch, "verify", "/p", errors.New("boom")), KindIntegrityMismatch},
		{"deeply wrapped", fmt.Errorf("outer: %w", NewError(KindNotFound, "stat", "/p", fs.ErrNotExist)), KindNotFound},
		{"bare not-exist", fs.ErrNotExist, KindNotFound},
		{"bare permission", fs.ErrPermission, KindPermissionDenied},
		{"context cancelled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindCancelled},
		{"unknown", errors.New("weird"), KindIo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindRetryable(t *testing.T) {
	assert.True(t, KindIo.Retryable())
	assert.True(t, KindConnectionFailed.Retryable())
	assert.False(t, KindNotFound.Retryable())
	assert.False(t, KindPermissionDenied.Retryable())
	assert.False(t, KindIntegrityMismatch.Retryable())
	assert.False(t, KindCancelled.Retryable())
	assert.False(t, KindUnsupported.Retryable())
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("disk on fire")
	err := NewError(KindIo, "write", "/tmp/x", cause)
	assert.Contains(t, err.Error(), "write")
	assert.Contains(t, err.Error(), "/tmp/x")
	assert.ErrorIs(t, err, cause)
}
