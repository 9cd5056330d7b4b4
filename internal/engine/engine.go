package engine

import (
	"time"

	"github.com/bamsammich/packrat/internal/codec"
	"github.com/bamsammich/packrat/internal/event"
	"github.com/bamsammich/packrat/internal/filter"
	"github.com/bamsammich/packrat/internal/pathnorm"
	"github.com/bamsammich/packrat/internal/stats"
)

const (
	// DefaultChunkSize is the read size used when streaming file bodies.
	DefaultChunkSize = 8 * 1024
	// MaxChunkSize bounds the per-pack read buffer.
	MaxChunkSize = 16 * 1024 * 1024
)

// PackConfig describes a pack operation.
type PackConfig struct {
	Src            string
	Archive        string
	Compression    codec.Compression
	ChunkSize      int
	FollowSymlinks bool
	NoXattrs       bool
	Filter         *filter.Chain
	// Strict makes Pack return ErrEntriesFailed if any entry failed.
	Strict     bool
	BWLimit    int64 // bytes per second, 0 = unlimited
	Normalizer pathnorm.Normalizer
	Events     chan<- event.Event
	Stats      *stats.Collector
}

func (c PackConfig) withDefaults() PackConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Normalizer == nil {
		c.Normalizer = pathnorm.Host()
	}
	if c.Stats == nil {
		c.Stats = stats.NewCollector()
	}
	return c
}

// RestoreOptions selects which recorded metadata Unpack applies.
type RestoreOptions struct {
	Owner  bool // uid/gid, resolved by name when the name exists locally
	Perms  bool // permission bits, applied verbatim
	Times  bool // access and modification times
	Xattrs bool // extended attributes, best effort
	Unlink bool // replace existing files and symlinks
	Sparse bool // leave zero runs as holes
}

// DefaultRestoreOptions enables every option.
func DefaultRestoreOptions() RestoreOptions {
	return RestoreOptions{
		Owner:  true,
		Perms:  true,
		Times:  true,
		Xattrs: true,
		Unlink: true,
		Sparse: true,
	}
}

// UnpackConfig describes an unpack operation. Dst must already exist.
type UnpackConfig struct {
	Archive string
	Dst     string
	// Restore defaults to DefaultRestoreOptions when nil.
	Restore    *RestoreOptions
	Strict     bool
	BWLimit    int64
	Normalizer pathnorm.Normalizer
	Events     chan<- event.Event
	Stats      *stats.Collector
}

func (c UnpackConfig) withDefaults() UnpackConfig {
	if c.Restore == nil {
		opts := DefaultRestoreOptions()
		c.Restore = &opts
	}
	if c.Normalizer == nil {
		c.Normalizer = pathnorm.Host()
	}
	if c.Stats == nil {
		c.Stats = stats.NewCollector()
	}
	return c
}

// Result is the outcome of a pack or unpack operation.
type Result struct {
	Stats stats.Snapshot
}

func emitEvent(ch chan<- event.Event, e event.Event) {
	if ch == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case ch <- e:
	default:
	}
}
