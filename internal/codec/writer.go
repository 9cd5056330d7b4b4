package codec

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
)

// HeaderResult is the outcome of committing one header to a write session.
type HeaderResult int

const (
	// HeaderOK means the header was written and a body may follow.
	HeaderOK HeaderResult = iota
	// HeaderWarn means the format rejected the header. Nothing was written
	// and the stream is still usable.
	HeaderWarn
	// HeaderFatal means the underlying stream failed. The session is unusable.
	HeaderFatal
)

func (r HeaderResult) String() string {
	switch r {
	case HeaderOK:
		return "ok"
	case HeaderWarn:
		return "warn"
	case HeaderFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrSessionClosed is returned for writes after Close.
var ErrSessionClosed = errors.New("session closed")

// errWriter remembers the first error returned by the wrapped writer, so a
// failed tar write can be classified as a stream failure or a format
// rejection.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}

// WriteSession writes PAX tar entries through a compression filter.
// It is not safe for concurrent use.
type WriteSession struct {
	dst    io.WriteCloser
	comp   io.WriteCloser
	sink   *errWriter
	tw     *tar.Writer
	closed bool
}

// NewWriteSession wraps dst. Closing the session closes dst.
func NewWriteSession(dst io.WriteCloser, c Compression) (*WriteSession, error) {
	comp, err := compressStream(dst, c)
	if err != nil {
		return nil, fmt.Errorf("init %s filter: %w", c, err)
	}
	sink := &errWriter{w: comp}
	return &WriteSession{
		dst:  dst,
		comp: comp,
		sink: sink,
		tw:   tar.NewWriter(sink),
	}, nil
}

// WriteHeader commits hdr. The header is always written in PAX format.
func (s *WriteSession) WriteHeader(hdr *tar.Header) (HeaderResult, error) {
	if s.closed {
		return HeaderFatal, ErrSessionClosed
	}
	hdr.Format = tar.FormatPAX

	err := s.tw.WriteHeader(hdr)
	if err == nil {
		return HeaderOK, nil
	}
	if s.sink.err != nil || errors.Is(err, tar.ErrWriteAfterClose) {
		return HeaderFatal, fmt.Errorf("write header %s: %w", hdr.Name, err)
	}
	return HeaderWarn, fmt.Errorf("write header %s: %w", hdr.Name, err)
}

// WriteBody appends body bytes to the current entry.
func (s *WriteSession) WriteBody(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	return s.tw.Write(p)
}

// Err returns the first error from the underlying stream, if any. A
// non-nil Err means every further write will fail.
func (s *WriteSession) Err() error {
	return s.sink.err
}

// Close writes the tar trailer, flushes the filter and closes the
// destination. It is safe to call more than once.
func (s *WriteSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.tw.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tar: %w", err))
	}
	if err := s.comp.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close filter: %w", err))
	}
	if err := s.dst.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close container: %w", err))
	}
	return errors.Join(errs...)
}
