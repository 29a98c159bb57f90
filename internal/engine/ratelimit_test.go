package engine

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitedReader_PassesBytesThrough(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 256<<10)
	r := &rateLimitedReader{
		r:       bytes.NewReader(data),
		limiter: newBWLimiter(1 << 30),
		ctx:     context.Background(),
	}
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRateLimitedReader_Paces(t *testing.T) {
	// 128 KiB at 64 KiB/s: the burst covers the first 64 KiB, the rest
	// has to wait for tokens.
	data := bytes.Repeat([]byte("x"), 128<<10)
	r := &rateLimitedReader{
		r:       bytes.NewReader(data),
		limiter: newBWLimiter(64 << 10),
		ctx:     context.Background(),
	}

	start := time.Now()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Len(t, got, len(data))
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestRateLimitedReader_CancelUnblocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &rateLimitedReader{
		r:       bytes.NewReader(bytes.Repeat([]byte("x"), 1<<20)),
		limiter: newBWLimiter(1), // 1 B/s: effectively stuck
		ctx:     ctx,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := io.ReadAll(r)
	assert.Error(t, err)
}
