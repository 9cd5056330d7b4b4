//go:build linux || darwin

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPack_StrictFailsOnUnsupported(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	archive := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, os.MkdirAll(src, 0o755))
	writeFileMode(t, filepath.Join(src, "ok.txt"), "ok", 0o644)
	require.NoError(t, unix.Mkfifo(filepath.Join(src, "pipe"), 0o644))

	res, err := Pack(context.Background(), PackConfig{Src: src, Archive: archive})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Stats.EntriesFailed)
	assert.Equal(t, int64(1), res.Stats.EntriesDone)
	assert.FileExists(t, archive)

	res, err = Pack(context.Background(), PackConfig{Src: src, Archive: archive, Strict: true})
	assert.ErrorIs(t, err, ErrEntriesFailed)
	assert.Equal(t, int64(1), res.Stats.EntriesDone)
	// The archive itself is still complete.
	assert.FileExists(t, archive)
}

func TestPackUnpack_DropsSpecialModeBits(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	archive := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, os.MkdirAll(src, 0o755))

	path := filepath.Join(src, "tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	if err := os.Chmod(path, 0o755|os.ModeSetuid|os.ModeSetgid); err != nil {
		t.Skipf("cannot set special bits: %v", err)
	}
	require.NoError(t, os.Mkdir(filepath.Join(src, "shared"), 0o777))
	require.NoError(t, os.Chmod(filepath.Join(src, "shared"), 0o777|os.ModeSticky))

	packTree(t, src, archive)
	unpackTree(t, archive, dst)

	info, err := os.Stat(filepath.Join(dst, "tool"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode()&(os.ModePerm|os.ModeSetuid|os.ModeSetgid|os.ModeSticky))

	info, err = os.Stat(filepath.Join(dst, "shared"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o777), info.Mode()&(os.ModePerm|os.ModeSticky))
}

func TestUnpack_ModesIgnoreUmask(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	archive := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "open"), 0o755))
	require.NoError(t, os.Chmod(filepath.Join(src, "open"), 0o777))
	writeFileMode(t, filepath.Join(src, "open", "shared.txt"), "shared", 0o666)

	packTree(t, src, archive)

	old := unix.Umask(0o077)
	t.Cleanup(func() { unix.Umask(old) })
	unpackTree(t, archive, dst)

	assert.Equal(t, snapshotTree(t, src), snapshotTree(t, dst))
	// The caller's umask is back in place.
	assert.Equal(t, 0o077, unix.Umask(0o077))
}

func TestPackUnpack_ReadOnlyDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	archive := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "locked", "inner"), 0o755))
	writeFileMode(t, filepath.Join(src, "locked", "inner", "f.txt"), "x", 0o444)
	require.NoError(t, os.Chmod(filepath.Join(src, "locked", "inner"), 0o555))
	require.NoError(t, os.Chmod(filepath.Join(src, "locked"), 0o500))
	t.Cleanup(func() {
		for _, root := range []string{src, dst} {
			_ = os.Chmod(filepath.Join(root, "locked"), 0o755)
			_ = os.Chmod(filepath.Join(root, "locked", "inner"), 0o755)
		}
	})

	packTree(t, src, archive)
	res := unpackTree(t, archive, dst)
	assert.Zero(t, res.Stats.EntriesFailed)
	assert.Equal(t, snapshotTree(t, src), snapshotTree(t, dst))
}

func TestUnpack_RestoresTimes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	archive := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "d"), 0o755))
	writeFileMode(t, filepath.Join(src, "d", "f.txt"), "x", 0o644)
	require.NoError(t, os.Symlink("f.txt", filepath.Join(src, "d", "l")))

	stamp := mustTime(t, "2021-03-04T05:06:07Z")
	require.NoError(t, os.Chtimes(filepath.Join(src, "d", "f.txt"), stamp, stamp))
	require.NoError(t, os.Chtimes(filepath.Join(src, "d"), stamp, stamp))

	packTree(t, src, archive)
	unpackTree(t, archive, dst)

	for _, rel := range []string{"d", "d/f.txt"} {
		info, err := os.Lstat(filepath.Join(dst, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.True(t, stamp.Equal(info.ModTime()), "%s: %v", rel, info.ModTime())
	}
}
