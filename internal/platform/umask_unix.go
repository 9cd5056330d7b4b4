//go:build linux || darwin

package platform

import (
	"sync"

	"golang.org/x/sys/unix"
)

// umask is process-wide; serialize callers so nested or concurrent scopes
// cannot restore each other's value.
var umaskMu sync.Mutex

// WithUmask runs fn with the process umask set to mask and restores the
// previous value afterwards, even if fn panics.
func WithUmask(mask int, fn func() error) error {
	umaskMu.Lock()
	defer umaskMu.Unlock()

	old := unix.Umask(mask)
	defer unix.Umask(old)
	return fn()
}
