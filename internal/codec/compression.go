package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression is the outer filter applied to the tar stream.
type Compression int

const (
	Gzip Compression = iota // Gzip is the default filter.
	Zstd                    // Zstd trades compatibility for speed.
	None                    // None writes a plain tar stream.
)

// ErrUnknownCompression is returned by ParseCompression for unsupported names.
var ErrUnknownCompression = errors.New("unknown compression")

func (c Compression) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// Extension returns the conventional file extension for the filter.
func (c Compression) Extension() string {
	switch c {
	case Gzip:
		return "tar.gz"
	case Zstd:
		return "tar.zst"
	case None:
		return "tar"
	default:
		return ""
	}
}

// ParseCompression maps a flag or config value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gzip", "gz":
		return Gzip, nil
	case "zstd", "zst":
		return Zstd, nil
	case "none", "tar":
		return None, nil
	default:
		return Gzip, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

var (
	gzipMagic = []byte{0x1F, 0x8B, 0x08}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Detect identifies the filter from the first bytes of a stream.
func Detect(source []byte) Compression {
	switch {
	case bytes.HasPrefix(source, gzipMagic):
		return Gzip
	case bytes.HasPrefix(source, zstdMagic):
		return Zstd
	default:
		return None
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type readCloserWrapper struct {
	io.Reader
	closer func() error
}

func (r *readCloserWrapper) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

func compressStream(dest io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopWriteCloser{dest}, nil
	case Gzip:
		return gzip.NewWriterLevel(dest, gzip.DefaultCompression)
	case Zstd:
		return zstd.NewWriter(dest)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}
}

// decompressStream sniffs the filter and returns the decompressed tar stream.
func decompressStream(archive io.Reader) (io.ReadCloser, error) {
	buf := bufio.NewReaderSize(archive, 32*1024)
	magic, err := buf.Peek(10)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	switch Detect(magic) {
	case Gzip:
		gz, err := gzip.NewReader(buf)
		if err != nil {
			return nil, err
		}
		return gz, nil
	case Zstd:
		dec, err := zstd.NewReader(buf)
		if err != nil {
			return nil, err
		}
		return &readCloserWrapper{
			Reader: dec,
			closer: func() error {
				dec.Close()
				return nil
			},
		}, nil
	default:
		return &readCloserWrapper{Reader: buf}, nil
	}
}
