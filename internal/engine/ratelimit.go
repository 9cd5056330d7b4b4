package engine

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewBWLimiter creates a rate.Limiter that caps container throughput to
// bytesPerSec. The burst is 1 MB so a full body block passes without
// unnecessary blocking.
func NewBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20 // 1 MB
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// rateLimitedReader throttles reads from the archive during unpack.
type rateLimitedReader struct {
	r       io.ReadCloser
	limiter *rate.Limiter
	ctx     context.Context
}

func newRateLimitedReader(ctx context.Context, r io.ReadCloser, limiter *rate.Limiter) *rateLimitedReader {
	return &rateLimitedReader{r: r, limiter: limiter, ctx: ctx}
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	// WaitN rejects requests larger than the burst.
	if len(p) > rl.limiter.Burst() {
		p = p[:rl.limiter.Burst()]
	}
	n, err := rl.r.Read(p)
	if n > 0 {
		if waitErr := rl.limiter.WaitN(rl.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

func (rl *rateLimitedReader) Close() error {
	return rl.r.Close()
}

// rateLimitedWriter throttles writes to the archive during pack.
type rateLimitedWriter struct {
	w       io.WriteCloser
	limiter *rate.Limiter
	ctx     context.Context
}

func newRateLimitedWriter(ctx context.Context, w io.WriteCloser, limiter *rate.Limiter) *rateLimitedWriter {
	return &rateLimitedWriter{w: w, limiter: limiter, ctx: ctx}
}

func (rw *rateLimitedWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), rw.limiter.Burst())
		if err := rw.limiter.WaitN(rw.ctx, n); err != nil {
			return written, err
		}
		m, err := rw.w.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

func (rw *rateLimitedWriter) Close() error {
	return rw.w.Close()
}
