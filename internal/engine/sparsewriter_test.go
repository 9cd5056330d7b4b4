package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseWriter_SkipsZeroRuns(t *testing.T) {
	for _, sparse := range []bool{true, false} {
		path := filepath.Join(t.TempDir(), "out")
		f, err := os.Create(path)
		require.NoError(t, err)

		body := make([]byte, 5*holeBlock+100)
		copy(body[holeBlock:], "data in the second block")
		body[len(body)-1] = 'z'

		w := &sparseWriter{f: f, sparse: sparse}
		_, err = w.WriteAt(body[:3*holeBlock], 0)
		require.NoError(t, err)
		_, err = w.WriteAt(body[3*holeBlock:], 3*holeBlock)
		require.NoError(t, err)
		require.NoError(t, w.finish(int64(len(body))))
		require.NoError(t, f.Close())

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(body, got), "sparse=%v", sparse)
	}
}

func TestSparseWriter_TrailingHole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := &sparseWriter{f: f, sparse: true}
	_, err = w.WriteAt(make([]byte, 3*holeBlock), 0)
	require.NoError(t, err)
	require.NoError(t, w.finish(3*holeBlock))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(3*holeBlock), info.Size())
}

func TestSparseWriter_ShortBody(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	w := &sparseWriter{f: f, sparse: true}
	_, err = w.WriteAt([]byte("abc"), 0)
	require.NoError(t, err)
	assert.Error(t, w.finish(10))
}

func TestIsZero(t *testing.T) {
	assert.True(t, isZero(nil))
	assert.True(t, isZero(make([]byte, holeBlock)))
	assert.False(t, isZero([]byte{0, 0, 1}))
}
