//go:build !linux && !darwin

package platform

// WithUmask runs fn. The platform has no umask.
func WithUmask(_ int, fn func() error) error {
	return fn()
}
