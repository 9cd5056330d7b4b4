//go:build linux || darwin

package engine

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// DetectSparseSegments maps the data and hole regions of f using
// SEEK_DATA/SEEK_HOLE. Filesystems without hole support report the whole
// file as one data segment. The file offset is left undefined; callers read
// with ReadAt.
func DetectSparseSegments(f *os.File, fileSize int64) ([]Segment, error) {
	return mapSegments(fdSeeker(f.Fd()), fileSize) //nolint:gosec // G115: fd fits in int
}

type fdSeeker int

func (fd fdSeeker) nextData(off int64) (int64, error) { return fd.seek(off, unix.SEEK_DATA) }
func (fd fdSeeker) nextHole(off int64) (int64, error) { return fd.seek(off, unix.SEEK_HOLE) }

func (fd fdSeeker) seek(off int64, whence int) (int64, error) {
	n, err := unix.Seek(int(fd), off, whence)
	switch {
	case errors.Is(err, unix.ENXIO):
		return 0, errNoMoreData
	case errors.Is(err, unix.EINVAL):
		return 0, errNoHoleSupport
	}
	return n, err
}
