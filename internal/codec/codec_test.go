package codec_test

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/packrat/internal/codec"
)

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufCloser) Close() error {
	b.closed = true
	return nil
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (failWriter) Close() error              { return nil }

func writeArchive(t *testing.T, c codec.Compression, files map[string]string, order []string) []byte {
	t.Helper()
	var out bufCloser
	ws, err := codec.NewWriteSession(&out, c)
	require.NoError(t, err)
	for _, name := range order {
		body := files[name]
		res, err := ws.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(body)),
		})
		require.NoError(t, err)
		require.Equal(t, codec.HeaderOK, res)
		_, err = ws.WriteBody([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, ws.Close())
	require.True(t, out.closed)
	return out.Bytes()
}

func readAll(t *testing.T, data []byte) (map[string]string, int) {
	t.Helper()
	rs, err := codec.NewReadSession(io.NopCloser(bytes.NewReader(data)))
	require.NoError(t, err)
	defer rs.Close()

	got := map[string]string{}
	corrupt := 0
	for {
		hdr, err := rs.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, codec.ErrCorruptHeader) {
			corrupt++
			continue
		}
		require.NoError(t, err)

		var body []byte
		for {
			block, off, err := rs.ReadBodyBlock()
			if len(block) > 0 {
				assert.Equal(t, int64(len(body)), off)
				body = append(body, block...)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
		}
		got[hdr.Name] = string(body)
	}
	return got, corrupt
}

func TestRoundTrip_AllCompressions(t *testing.T) {
	files := map[string]string{"a.txt": "hello", "b.txt": "", "c.txt": "world"}
	order := []string{"a.txt", "b.txt", "c.txt"}

	for _, c := range []codec.Compression{codec.None, codec.Gzip, codec.Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			data := writeArchive(t, c, files, order)
			assert.Equal(t, c, codec.Detect(data))

			got, corrupt := readAll(t, data)
			assert.Zero(t, corrupt)
			assert.Equal(t, files, got)
		})
	}
}

func TestReadBodyBlock_LargeBody(t *testing.T) {
	big := bytes.Repeat([]byte("0123456789abcdef"), codec.BlockSize/8)
	data := writeArchive(t, codec.Gzip, map[string]string{"big": string(big)}, []string{"big"})

	got, _ := readAll(t, data)
	assert.Equal(t, string(big), got["big"])
}

func TestWriteHeader_WarnLeavesStreamUsable(t *testing.T) {
	var out bufCloser
	ws, err := codec.NewWriteSession(&out, codec.None)
	require.NoError(t, err)

	res, err := ws.WriteHeader(&tar.Header{Name: "caf\u00e9\x00name", Typeflag: tar.TypeReg, Mode: 0o644})
	require.Error(t, err)
	assert.Equal(t, codec.HeaderWarn, res)
	assert.NoError(t, ws.Err())

	res, err = ws.WriteHeader(&tar.Header{Name: "ok", Typeflag: tar.TypeReg, Mode: 0o644, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, codec.HeaderOK, res)
	_, err = ws.WriteBody([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	got, _ := readAll(t, out.Bytes())
	assert.Equal(t, map[string]string{"ok": "hi"}, got)
}

func TestWriteHeader_FatalOnStreamFailure(t *testing.T) {
	ws, err := codec.NewWriteSession(failWriter{}, codec.None)
	require.NoError(t, err)

	res, err := ws.WriteHeader(&tar.Header{Name: "x", Typeflag: tar.TypeDir, Mode: 0o755})
	require.Error(t, err)
	assert.Equal(t, codec.HeaderFatal, res)
	assert.Error(t, ws.Err())
}

func TestClose_Idempotent(t *testing.T) {
	var out bufCloser
	ws, err := codec.NewWriteSession(&out, codec.Gzip)
	require.NoError(t, err)
	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())

	res, err := ws.WriteHeader(&tar.Header{Name: "late"})
	assert.ErrorIs(t, err, codec.ErrSessionClosed)
	assert.Equal(t, codec.HeaderFatal, res)
}

func TestNext_ResyncsAfterCorruptHeader(t *testing.T) {
	files := map[string]string{"one": "1", "two": "22", "three": "333"}
	data := writeArchive(t, codec.None, files, []string{"one", "two", "three"})

	// Each entry is one header block plus one data block. Break the
	// checksum of the second header.
	data[2*512+148] ^= 0x7f

	got, corrupt := readAll(t, data)
	assert.Equal(t, 1, corrupt)
	assert.Equal(t, map[string]string{"one": "1", "three": "333"}, got)
}

// tarBytes builds an uncompressed tar of regular files with archive/tar.
func tarBytes(t *testing.T, files ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for i := 0; i+1 < len(files); i += 2 {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     files[i],
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(files[i+1])),
		}))
		_, err := tw.Write([]byte(files[i+1]))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestNext_ResyncContinuesPastNestedArchiveEnd(t *testing.T) {
	inner := string(tarBytes(t, "injected.txt", "x"))
	files := map[string]string{"one": "1", "inner.tar": inner, "three": "333"}
	data := writeArchive(t, codec.None, files, []string{"one", "inner.tar", "three"})

	// The damaged header hides inner.tar's size, so the reader lands on
	// the nested archive and must not stop at its end marker.
	data[2*512+148] ^= 0x7f

	got, corrupt := readAll(t, data)
	assert.Equal(t, 1, corrupt)
	assert.Equal(t, "1", got["one"])
	assert.Equal(t, "333", got["three"])
	assert.NotContains(t, got, "inner.tar")
}

func TestNext_ResyncIgnoresBlocksWithoutMagic(t *testing.T) {
	// A body block that checksums like a header but has no ustar magic.
	fake := tarBytes(t, "fake.txt", "")[:512]
	copy(fake[257:265], make([]byte, 8))
	copy(fake[148:156], "        ")
	var sum int64
	for _, c := range fake {
		sum += int64(c)
	}
	copy(fake[148:156], fmt.Sprintf("%06o\x00 ", sum))

	files := map[string]string{"one": "1", "two": string(fake), "three": "333"}
	data := writeArchive(t, codec.None, files, []string{"one", "two", "three"})
	data[2*512+148] ^= 0x7f

	got, corrupt := readAll(t, data)
	assert.Equal(t, 1, corrupt)
	assert.Equal(t, map[string]string{"one": "1", "three": "333"}, got)
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in   string
		want codec.Compression
		err  bool
	}{
		{"", codec.Gzip, false},
		{"gzip", codec.Gzip, false},
		{"GZ", codec.Gzip, false},
		{"zstd", codec.Zstd, false},
		{"none", codec.None, false},
		{"bzip2", codec.Gzip, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := codec.ParseCompression(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, codec.ErrUnknownCompression)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "tar.gz", codec.Gzip.Extension())
	assert.Equal(t, "tar.zst", codec.Zstd.Extension())
	assert.Equal(t, "tar", codec.None.Extension())
}
