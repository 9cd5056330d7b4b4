package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bamsammich/packrat/internal/codec"
	"github.com/bamsammich/packrat/internal/event"
)

// createTestTree populates root with a standard test tree:
//
//	root.txt          (17 bytes)
//	big.bin           (320KB)
//	empty/            (no children)
//	sub/mid.txt       (19 bytes, 0600)
//	sub/deep/leaf.txt (17 bytes, 0755)
//	link.txt          → root.txt (symlink)
func createTestTree(t *testing.T, root string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o750))

	require.NoError(t, os.WriteFile(filepath.Join(root, "root.txt"), []byte("root file content"), 0o644))
	bigData := bytes.Repeat([]byte("ABCDEFGHIJKLMNOP"), 20000)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), bigData, 0o644))
	writeFileMode(t, filepath.Join(root, "sub", "mid.txt"), "middle file content", 0o600)
	writeFileMode(t, filepath.Join(root, "sub", "deep", "leaf.txt"), "leaf file content", 0o755)

	require.NoError(t, os.Symlink("root.txt", filepath.Join(root, "link.txt")))
}

// writeFileMode writes a file and sets its mode exactly, ignoring umask.
func writeFileMode(t *testing.T, path, content string, mode fs.FileMode) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	require.NoError(t, os.Chmod(path, mode))
}

// snapshotTree describes every object below root, keyed by slash path:
// "file 0644 <content>", "dir 0755" or "symlink <target>".
func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		rel = filepath.ToSlash(rel)

		info, err := os.Lstat(path)
		require.NoError(t, err)
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			require.NoError(t, err)
			out[rel] = "symlink " + target
		case info.IsDir():
			out[rel] = fmt.Sprintf("dir %04o", info.Mode().Perm())
		default:
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			out[rel] = fmt.Sprintf("file %04o %s", info.Mode().Perm(), data)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func packTree(t *testing.T, src, archive string) Result {
	t.Helper()
	res, err := Pack(context.Background(), PackConfig{
		Src:            src,
		Archive:        archive,
		FollowSymlinks: true,
	})
	require.NoError(t, err)
	return res
}

func unpackTree(t *testing.T, archive, dst string) Result {
	t.Helper()
	require.NoError(t, os.MkdirAll(dst, 0o755))
	res, err := Unpack(context.Background(), UnpackConfig{Archive: archive, Dst: dst})
	require.NoError(t, err)
	return res
}

// craftedEntry is one header plus body for writeCraftedArchive.
type craftedEntry struct {
	hdr  *tar.Header
	body string
}

func fileEntry(name, body string) craftedEntry {
	return craftedEntry{
		hdr:  &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))},
		body: body,
	}
}

func dirEntry(name string) craftedEntry {
	return craftedEntry{hdr: &tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0o755}}
}

func symlinkEntry(name, target string) craftedEntry {
	return craftedEntry{hdr: &tar.Header{Name: name, Typeflag: tar.TypeSymlink, Linkname: target, Mode: 0o777}}
}

// writeCraftedArchive writes raw headers, bypassing the packer, so tests
// can produce archives the packer never would.
func writeCraftedArchive(t *testing.T, path string, c codec.Compression, entries ...craftedEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	ws, err := codec.NewWriteSession(f, c)
	require.NoError(t, err)
	for _, e := range entries {
		res, err := ws.WriteHeader(e.hdr)
		require.NoError(t, err)
		require.Equal(t, codec.HeaderOK, res)
		if e.body != "" {
			_, err = ws.WriteBody([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, ws.Close())
}

func drainEvents(ch chan event.Event) []event.Event {
	close(ch)
	var out []event.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
