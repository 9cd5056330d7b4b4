//go:build windows

package pathnorm

// Host returns the normalizer for the build target.
func Host() Normalizer { return Windows{} }
