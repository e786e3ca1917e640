package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")

	written, overwrote, err := WriteFileIfChanged(path, []byte("hello"), 0644)
	require.NoError(t, err)
	assert.True(t, written)
	assert.False(t, overwrote)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	written, overwrote, err = WriteFileIfChanged(path, []byte("hello"), 0644)
	require.NoError(t, err)
	assert.False(t, written)
	assert.False(t, overwrote)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "unchanged content must not touch the file")

	written, overwrote, err = WriteFileIfChanged(path, []byte("bye"), 0644)
	require.NoError(t, err)
	assert.True(t, written)
	assert.True(t, overwrote)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))
}

func TestFindNonDirAncestor(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "blocker"), []byte("x"), 0644))

	conflict, err := FindNonDirAncestor(filepath.Join(root, "blocker", "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "blocker"), conflict)

	conflict, err = FindNonDirAncestor(filepath.Join(root, "fresh", "a"))
	require.NoError(t, err)
	assert.Empty(t, conflict)
}

func TestCreateDirIfNotExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateDirIfNotExists(dir))
	require.NoError(t, CreateDirIfNotExists(dir))
	assert.True(t, DirExists(dir))
	assert.False(t, FileExists(dir))
}
