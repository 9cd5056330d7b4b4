//go:build !linux && !darwin

package engine

import "os"

// DetectSparseSegments reports the whole file as data; hole detection is
// not available on this platform.
func DetectSparseSegments(_ *os.File, fileSize int64) ([]Segment, error) {
	return mapSegments(noHoles{}, fileSize)
}

type noHoles struct{}

func (noHoles) nextData(int64) (int64, error) { return 0, errNoHoleSupport }
func (noHoles) nextHole(int64) (int64, error) { return 0, errNoHoleSupport }
