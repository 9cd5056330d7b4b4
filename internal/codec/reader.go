package codec

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// BlockSize is the unit ReadBodyBlock hands out.
	BlockSize = 64 * 1024

	tarBlockSize = 512
)

// ErrCorruptHeader marks a damaged header. The next call to Next skips
// forward to the following valid header.
var ErrCorruptHeader = errors.New("corrupt header")

// ReadSession reads tar entries from a possibly compressed container.
// It is not safe for concurrent use.
type ReadSession struct {
	src    io.ReadCloser
	stream io.ReadCloser
	tr     *tar.Reader
	buf    []byte
	offset int64
	resync bool
	// resynced is set once the reader has been restarted mid-stream. An
	// end marker seen after that may belong to an archive stored inside
	// a damaged entry's body, so it is not trusted.
	resynced bool
}

// NewReadSession detects the compression filter of src and prepares to read
// headers. Closing the session closes src.
func NewReadSession(src io.ReadCloser) (*ReadSession, error) {
	stream, err := decompressStream(src)
	if err != nil {
		return nil, fmt.Errorf("open filter: %w", err)
	}
	return &ReadSession{
		src:    src,
		stream: stream,
		tr:     tar.NewReader(stream),
		buf:    make([]byte, BlockSize),
	}, nil
}

// Next advances to the next header. It returns io.EOF at the end of the
// archive and an error wrapping ErrCorruptHeader for a damaged header.
// Other errors (truncation, filter failures) are not recoverable.
func (s *ReadSession) Next() (*tar.Header, error) {
	if s.resync {
		s.resync = false
		if err := s.skipToHeader(); err != nil {
			return nil, err
		}
	}

	hdr, err := s.tr.Next()
	for s.resynced && errors.Is(err, io.EOF) {
		if err = s.skipToHeader(); err != nil {
			return nil, err
		}
		hdr, err = s.tr.Next()
	}
	switch {
	case err == nil, hdr != nil && errors.Is(err, tar.ErrInsecurePath):
		s.offset = 0
		return hdr, nil
	case errors.Is(err, tar.ErrHeader):
		s.resync = true
		return nil, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	default:
		return nil, err
	}
}

// skipToHeader consumes 512-byte blocks until one looks like a ustar
// header with a valid checksum, then restarts the tar reader on that
// block. tar.Reader errors are sticky, so a fresh reader is the only way
// forward.
func (s *ReadSession) skipToHeader() error {
	blk := make([]byte, tarBlockSize)
	for {
		if _, err := io.ReadFull(s.stream, blk); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return io.EOF
			}
			return err
		}
		if hasMagic(blk) && validChecksum(blk) {
			s.tr = tar.NewReader(io.MultiReader(bytes.NewReader(blk), s.stream))
			s.resynced = true
			return nil
		}
	}
}

// hasMagic reports whether blk carries the ustar magic (POSIX "ustar\x00"
// or GNU "ustar  ").
func hasMagic(blk []byte) bool {
	return bytes.HasPrefix(blk[257:], []byte("ustar"))
}

// validChecksum reports whether blk is a header block whose stored checksum
// matches its contents. All-zero blocks are never valid.
func validChecksum(blk []byte) bool {
	field := strings.Trim(string(blk[148:156]), " \x00")
	if field == "" {
		return false
	}
	want, err := strconv.ParseInt(field, 8, 64)
	if err != nil {
		return false
	}

	var unsigned, signed int64
	for i, c := range blk {
		if i >= 148 && i < 156 {
			c = ' '
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return want == unsigned || want == signed
}

// ReadBodyBlock returns the next block of the current entry's body and its
// offset within the entry. It returns io.EOF when the body is exhausted.
// The block is only valid until the next call; it may be non-empty even
// when err is non-nil.
func (s *ReadSession) ReadBodyBlock() ([]byte, int64, error) {
	n := 0
	var err error
	for n < len(s.buf) && err == nil {
		var nn int
		nn, err = s.tr.Read(s.buf[n:])
		n += nn
	}
	if n == 0 {
		return nil, s.offset, err
	}
	off := s.offset
	s.offset += int64(n)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return s.buf[:n], off, err
}

// Close releases the filter and the source.
func (s *ReadSession) Close() error {
	return errors.Join(s.stream.Close(), s.src.Close())
}
