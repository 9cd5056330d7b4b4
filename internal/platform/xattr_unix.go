//go:build linux || darwin

package platform

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ListXattrs returns every extended attribute on path. Filesystems without
// xattr support yield an empty map.
func ListXattrs(path string) (map[string]string, error) {
	sz, err := unix.Listxattr(path, nil)
	if err != nil {
		if isNotSupported(err) {
			return nil, nil
		}
		return nil, err
	}
	if sz == 0 {
		return nil, nil
	}

	buf := make([]byte, sz)
	sz, err = unix.Listxattr(path, buf)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]string)
	for _, name := range parseXattrNames(buf[:sz]) {
		val, err := getXattr(path, name)
		if err != nil {
			// Attribute vanished between list and get.
			continue
		}
		attrs[name] = string(val)
	}
	return attrs, nil
}

// SetXattr writes one extended attribute. Unsupported filesystems and
// namespaces the caller may not write are reported as ErrUnsupported.
func SetXattr(path, name, value string) error {
	err := unix.Setxattr(path, name, []byte(value), 0)
	if err != nil && (isNotSupported(err) || errors.Is(err, unix.EPERM)) {
		return ErrUnsupported
	}
	return err
}

func getXattr(path, name string) ([]byte, error) {
	sz, err := unix.Getxattr(path, name, nil)
	if err != nil || sz == 0 {
		return nil, err
	}
	buf := make([]byte, sz)
	sz, err = unix.Getxattr(path, name, buf)
	return buf[:sz], err
}

func parseXattrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}

func isNotSupported(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP)
}
