// Package platform wraps the host filesystem calls the archive engine needs
// beyond package os: umask scoping, ownership and access-time metadata,
// extended attributes, symlink-aware timestamps and preallocation.
package platform

import (
	"errors"
	"time"
)

// ErrUnsupported is returned where the host has no equivalent call.
var ErrUnsupported = errors.New("not supported on this platform")

// Stat is the subset of a raw stat record that fs.FileInfo does not expose.
type Stat struct {
	Dev   uint64
	Ino   uint64
	UID   int
	GID   int
	Atime time.Time
}

// DevIno identifies a file across the whole host.
type DevIno struct {
	Dev uint64
	Ino uint64
}

// Key returns the device/inode pair of s.
func (s Stat) Key() DevIno {
	return DevIno{Dev: s.Dev, Ino: s.Ino}
}
