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

type nopWriteCloser struct {
	io.Writer
	closed bool
}

func (w *nopWriteCloser) Close() error {
	w.closed = true
	return nil
}

func TestNewBWLimiter(t *testing.T) {
	t.Parallel()

	t.Run("burst capped to rate when rate < 1MB", func(t *testing.T) {
		t.Parallel()
		lim := NewBWLimiter(1024)
		assert.Equal(t, 1024, lim.Burst())
	})

	t.Run("burst is 1MB when rate >= 1MB", func(t *testing.T) {
		t.Parallel()
		lim := NewBWLimiter(10 * 1024 * 1024)
		assert.Equal(t, 1<<20, lim.Burst())
	})
}

func TestRateLimitedReader(t *testing.T) {
	t.Parallel()

	t.Run("reads all data", func(t *testing.T) {
		t.Parallel()
		data := bytes.Repeat([]byte("x"), 4096)
		lim := NewBWLimiter(1 << 20)
		rl := newRateLimitedReader(context.Background(), io.NopCloser(bytes.NewReader(data)), lim)

		got, err := io.ReadAll(rl)
		require.NoError(t, err)
		assert.Equal(t, data, got)
		require.NoError(t, rl.Close())
	})

	t.Run("enforces rate limit", func(t *testing.T) {
		t.Parallel()
		// 10 KB at 5 KB/s should take ~1s after the burst.
		dataSize := 10 * 1024
		data := bytes.Repeat([]byte("a"), dataSize)
		lim := NewBWLimiter(5 * 1024)

		start := time.Now()
		rl := newRateLimitedReader(context.Background(), io.NopCloser(bytes.NewReader(data)), lim)
		got, err := io.ReadAll(rl)
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Len(t, got, dataSize)
		assert.Greater(t, elapsed, 500*time.Millisecond,
			"rate limiter should slow reads to ~5KB/s")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()
		data := bytes.Repeat([]byte("b"), 1<<20)
		lim := NewBWLimiter(1024)

		ctx, cancel := context.WithCancel(context.Background())
		rl := newRateLimitedReader(ctx, io.NopCloser(bytes.NewReader(data)), lim)

		cancel()
		buf := make([]byte, 4096)
		for range 100 {
			if _, err := rl.Read(buf); err != nil {
				return
			}
		}
		t.Fatal("expected context cancellation error")
	})
}

func TestRateLimitedWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes larger than burst", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		dst := &nopWriteCloser{Writer: &buf}
		lim := NewBWLimiter(1 << 20)
		rw := newRateLimitedWriter(context.Background(), dst, lim)

		data := bytes.Repeat([]byte("z"), 3<<20/2)
		n, err := rw.Write(data)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		assert.Equal(t, data, buf.Bytes())

		require.NoError(t, rw.Close())
		assert.True(t, dst.closed)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rw := newRateLimitedWriter(ctx, &nopWriteCloser{Writer: io.Discard}, NewBWLimiter(1024))

		_, err := rw.Write(make([]byte, 4096))
		assert.Error(t, err)
	})
}
