//go:build !linux && !darwin

package platform

// ListXattrs reports no attributes on this platform.
func ListXattrs(string) (map[string]string, error) {
	return nil, nil
}

// SetXattr is not available on this platform.
func SetXattr(_, _, _ string) error {
	return ErrUnsupported
}
