package engine

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// newBWLimiter creates a token bucket capping aggregate throughput to
// bytesPerSec across every chunk task of a job. The burst allows natural
// read-size chunks through without blocking on small reads.
func newBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20 // 1 MiB
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// rateLimitedReader throttles reads against the job's shared limiter.
// Every chunk task consults the same bucket before each buffer read.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	// Never read more than the bucket can ever hold.
	if burst := rl.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := rl.r.Read(p)
	if n > 0 {
		if waitErr := rl.limiter.WaitN(rl.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
