package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Writer is the write side of a Collector, used by the engine.
type Writer interface {
	AddEntriesWalked(n int64)
	AddEntriesDone(n int64)
	AddEntriesFailed(n int64)
	AddEntriesSkipped(n int64)
	AddBytesStreamed(n int64)
	AddFiles(n int64)
	AddDirs(n int64)
	AddSymlinks(n int64)
	AddCorruptHeaders(n int64)
	AddVerified(n int64)
	AddVerifyFailed(n int64)
}

// Reader is the read side of a Collector, used by presenters.
type Reader interface {
	Snapshot() Snapshot
	RollingSpeed(seconds int) float64
}

// Collector tracks archive operation statistics using lock-free atomic counters.
type Collector struct {
	entriesWalked  atomic.Int64
	entriesDone    atomic.Int64
	entriesFailed  atomic.Int64
	entriesSkipped atomic.Int64
	bytesStreamed  atomic.Int64
	files          atomic.Int64
	dirs           atomic.Int64
	symlinks       atomic.Int64
	corruptHeaders atomic.Int64
	verified       atomic.Int64
	verifyFailed   atomic.Int64
	startTime      time.Time

	// Ring buffer, written only by Tick.
	mu          sync.Mutex
	throughput  [ringSize]int64 // bytes delta per second
	entriesRate [ringSize]int64 // entries delta per second
	ringIdx     int
	ringCount   int
	lastBytes   int64
	lastEntries int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	EntriesWalked  int64
	EntriesDone    int64
	EntriesFailed  int64
	EntriesSkipped int64
	BytesStreamed  int64
	Files          int64
	Dirs           int64
	Symlinks       int64
	CorruptHeaders int64
	Verified       int64
	VerifyFailed   int64
	Elapsed        time.Duration
}

func (c *Collector) AddEntriesWalked(n int64)  { c.entriesWalked.Add(n) }
func (c *Collector) AddEntriesDone(n int64)    { c.entriesDone.Add(n) }
func (c *Collector) AddEntriesFailed(n int64)  { c.entriesFailed.Add(n) }
func (c *Collector) AddEntriesSkipped(n int64) { c.entriesSkipped.Add(n) }
func (c *Collector) AddBytesStreamed(n int64)  { c.bytesStreamed.Add(n) }
func (c *Collector) AddFiles(n int64)          { c.files.Add(n) }
func (c *Collector) AddDirs(n int64)           { c.dirs.Add(n) }
func (c *Collector) AddSymlinks(n int64)       { c.symlinks.Add(n) }
func (c *Collector) AddCorruptHeaders(n int64) { c.corruptHeaders.Add(n) }
func (c *Collector) AddVerified(n int64)       { c.verified.Add(n) }
func (c *Collector) AddVerifyFailed(n int64)   { c.verifyFailed.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		EntriesWalked:  c.entriesWalked.Load(),
		EntriesDone:    c.entriesDone.Load(),
		EntriesFailed:  c.entriesFailed.Load(),
		EntriesSkipped: c.entriesSkipped.Load(),
		BytesStreamed:  c.bytesStreamed.Load(),
		Files:          c.files.Load(),
		Dirs:           c.dirs.Load(),
		Symlinks:       c.symlinks.Load(),
		CorruptHeaders: c.corruptHeaders.Load(),
		Verified:       c.verified.Load(),
		VerifyFailed:   c.verifyFailed.Load(),
		Elapsed:        c.Elapsed(),
	}
}

// Tick snapshots byte/entry deltas into the ring buffer. Called 1/sec by the presenter.
func (c *Collector) Tick() {
	currentBytes := c.bytesStreamed.Load()
	currentEntries := c.entriesDone.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = currentBytes - c.lastBytes
	c.entriesRate[c.ringIdx] = currentEntries - c.lastEntries
	c.lastBytes = currentBytes
	c.lastEntries = currentEntries

	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingAvg(c.throughput[:], seconds)
}

// RollingEntriesPerSec returns average entries/sec over the last n seconds.
func (c *Collector) RollingEntriesPerSec(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingAvg(c.entriesRate[:], seconds)
}

func (c *Collector) rollingAvg(buf []int64, n int) float64 {
	count := min(n, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += buf[idx]
	}
	return float64(sum) / float64(count)
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"entries=%d failed=%d skipped=%d bytes=%d files=%d dirs=%d symlinks=%d corrupt=%d",
		s.EntriesDone, s.EntriesFailed, s.EntriesSkipped, s.BytesStreamed,
		s.Files, s.Dirs, s.Symlinks, s.CorruptHeaders,
	)
}

// SpeedHistory returns the recorded bytes/sec samples, oldest first.
func (c *Collector) SpeedHistory() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, c.ringCount)
	for i := range c.ringCount {
		idx := (c.ringIdx - c.ringCount + i + ringSize) % ringSize
		out[i] = float64(c.throughput[idx])
	}
	return out
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
