package vfs

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseFS(t *testing.T, fs FS) {
	t.Helper()

	f, err := fs.Create("swap", 8192)
	require.NoError(t, err)
	assert.Equal(t, int64(8192), f.Size())

	_, err = fs.Create("swap", 10)
	assert.ErrorIs(t, err, ErrExists)

	n, err := f.WriteAt([]byte("kronos"), 4096)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	again, err := fs.Open("swap")
	require.NoError(t, err)

	buf := make([]byte, 6)
	n, err = again.ReadAt(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "kronos", string(buf))

	_, err = fs.Open("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Contains(t, fs.List(), "swap")
}

func TestMemFS(t *testing.T) {
	exerciseFS(t, NewMemFS())
}

func TestOSFS(t *testing.T) {
	fs, err := NewOSFS(t.TempDir())
	require.NoError(t, err)
	exerciseFS(t, fs)
}

func TestMemFileReadPastEnd(t *testing.T) {
	f := NewMemFile("data", []byte("abc"))

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 1)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)

	n, err = f.ReadAt(buf, 10)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMemFileWriteGrows(t *testing.T) {
	f := NewMemFile("data", nil)
	_, err := f.WriteAt([]byte("xy"), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), f.Size())
}
