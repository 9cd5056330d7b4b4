//go:build !linux && !darwin

package platform

import (
	"os"
	"time"
)

// SetTimes sets access and modification times on path. Symlinks are
// followed; callers skip them.
func SetTimes(path string, atime, mtime time.Time) error {
	return os.Chtimes(path, atime, mtime)
}
