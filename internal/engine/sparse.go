package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// holeBlock is the granularity at which the extractor looks for zero runs.
const holeBlock = 4096

var zeroBlock [holeBlock]byte

// Segment describes a contiguous region of a file.
type Segment struct {
	Offset int64
	Length int64
	IsData bool
}

func wholeFileSegment(size int64) []Segment {
	return []Segment{{Offset: 0, Length: size, IsData: true}}
}

var (
	// errNoMoreData is returned by holeSeeker.nextData when only hole
	// remains up to EOF.
	errNoMoreData = errors.New("no data past offset")
	// errNoHoleSupport means the filesystem cannot report holes.
	errNoHoleSupport = errors.New("hole detection unsupported")
)

// holeSeeker finds the start of the next data or hole region at or after
// off.
type holeSeeker interface {
	nextData(off int64) (int64, error)
	nextHole(off int64) (int64, error)
}

// segmentList accumulates regions, merging neighbours of the same kind.
type segmentList []Segment

func (l *segmentList) add(off, end int64, data bool) {
	if end <= off {
		return
	}
	if n := len(*l); n > 0 && (*l)[n-1].IsData == data {
		(*l)[n-1].Length += end - off
		return
	}
	*l = append(*l, Segment{Offset: off, Length: end - off, IsData: data})
}

// mapSegments walks s over [0, size). Any inconsistency in what s reports
// falls back to a single data segment.
func mapSegments(s holeSeeker, size int64) ([]Segment, error) {
	if size == 0 {
		return nil, nil
	}

	var segs segmentList
	for off := int64(0); off < size; {
		dataStart, err := s.nextData(off)
		switch {
		case errors.Is(err, errNoMoreData):
			segs.add(off, size, false)
			return segs, nil
		case errors.Is(err, errNoHoleSupport):
			return wholeFileSegment(size), nil
		case err != nil:
			return nil, err
		}
		dataStart = min(dataStart, size)
		segs.add(off, dataStart, false)

		holeStart, err := s.nextHole(dataStart)
		switch {
		case errors.Is(err, errNoMoreData):
			holeStart = size
		case errors.Is(err, errNoHoleSupport):
			return wholeFileSegment(size), nil
		case err != nil:
			return nil, err
		}
		holeStart = min(holeStart, size)
		segs.add(dataStart, holeStart, true)

		if holeStart <= off {
			// The file changed under us.
			return wholeFileSegment(size), nil
		}
		off = holeStart
	}

	if len(segs) == 0 {
		return wholeFileSegment(size), nil
	}
	return segs, nil
}

// sparseWriter writes body blocks at their offsets. With sparse enabled,
// aligned all-zero runs are skipped and left as holes; finish sets the
// final size so trailing holes are materialized.
type sparseWriter struct {
	f       *os.File
	sparse  bool
	written int64
}

func (w *sparseWriter) WriteAt(p []byte, off int64) (int, error) {
	w.written += int64(len(p))
	if !w.sparse {
		return w.f.WriteAt(p, off)
	}

	for i := 0; i < len(p); {
		end := min(i+holeBlock, len(p))
		if isZero(p[i:end]) {
			i = end
			continue
		}
		// Extend the run over following non-zero blocks to keep writes large.
		for end < len(p) {
			next := min(end+holeBlock, len(p))
			if isZero(p[end:next]) {
				break
			}
			end = next
		}
		if _, err := w.f.WriteAt(p[i:end], off+int64(i)); err != nil {
			return i, err
		}
		i = end
	}
	return len(p), nil
}

func (w *sparseWriter) finish(size int64) error {
	if w.written != size {
		return fmt.Errorf("short body: got %d of %d bytes", w.written, size)
	}
	if err := w.f.Truncate(size); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

func isZero(p []byte) bool {
	return bytes.Equal(p, zeroBlock[:len(p)])
}
