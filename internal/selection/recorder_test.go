package selection

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRecorder_ResetClearsDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "selection")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stale := filepath.Join(dir, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old\n"), 0o644))

	rec := NewFileRecorder(dir)
	require.NoError(t, rec.Reset())

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileRecorder_WriteOverwrites(t *testing.T) {
	rec := NewFileRecorder(filepath.Join(t.TempDir(), "selection"))
	require.NoError(t, rec.Reset())

	require.NoError(t, rec.Write(7, []string{"a.npy", "b.npy", "c.npy"}))
	require.NoError(t, rec.Write(7, []string{"d.npy", "e.npy"}))

	data, err := os.ReadFile(rec.Path(7))
	require.NoError(t, err)
	assert.Equal(t, "d.npy\ne.npy\n", string(data))
	assert.True(t, strings.HasSuffix(rec.Path(7), "7.txt"))
}

func TestFileRecorder_WriteWithoutDirectoryFails(t *testing.T) {
	rec := NewFileRecorder(filepath.Join(t.TempDir(), "never-created"))
	assert.Error(t, rec.Write(0, []string{"x"}))
}

func TestMemoryRecorder(t *testing.T) {
	rec := NewMemoryRecorder()
	_, err := rec.Record(0)
	assert.ErrorIs(t, err, ErrNotFound)

	ids := []string{"x", "y"}
	require.NoError(t, rec.Write(0, ids))
	ids[0] = "mutated"

	got, err := rec.Record(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, got)
	assert.Equal(t, 1, rec.Writes())

	require.NoError(t, rec.Reset())
	_, err = rec.Record(0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, rec.Resets())
}
