package features

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeNpy(t *testing.T, path string, v []float64) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, npyio.Write(f, v))
}

func TestLoad_SortedAndOffset(t *testing.T) {
	dir := t.TempDir()
	// Written out of order; loading must sort by name.
	for _, i := range []int{3, 0, 4, 1, 2} {
		writeNpy(t, filepath.Join(dir, fmt.Sprintf("feat_%02d.npy", i)), []float64{float64(i), 1, 2})
	}

	seq, err := Load(filepath.Join(dir, "feat_"), 0, 0, 3)
	require.NoError(t, err)
	require.Equal(t, 5, seq.Len())
	assert.Equal(t, 3, seq.Dim())
	for i := 0; i < 5; i++ {
		assert.Equal(t, filepath.Join(dir, fmt.Sprintf("feat_%02d.npy", i)), seq.IDs[i])
		assert.Equal(t, float64(i), seq.Features.At(i, 0))
	}

	seq, err = Load(filepath.Join(dir, "feat_"), 2, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, seq.Start)
	assert.Equal(t, 2, seq.Len())
	assert.Equal(t, 2.0, seq.Features.At(0, 0))
	assert.Equal(t, 3.0, seq.Features.At(1, 0))
}

func TestLoad_DimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	writeNpy(t, filepath.Join(dir, "a.npy"), []float64{1, 2, 3})
	writeNpy(t, filepath.Join(dir, "b.npy"), []float64{1, 2})

	_, err := Load(dir+string(filepath.Separator), 0, 0, 3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestLoad_SkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "frames_sub"), 0o755))
	writeNpy(t, filepath.Join(dir, "frames_0.npy"), []float64{1, 2})
	writeNpy(t, filepath.Join(dir, "frames_1.npy"), []float64{3, 4})

	seq, err := Load(filepath.Join(dir, "frames_"), 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "frames_0.npy"),
		filepath.Join(dir, "frames_1.npy"),
	}, seq.IDs)

	// A directory prefix without a trailing separator matches only the
	// directory itself.
	_, err = Load(dir, 0, 0, 2)
	assert.ErrorIs(t, err, ErrNoFeatures)
}

func TestReadVector_WrapsPathOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.npy")
	require.NoError(t, os.WriteFile(path, []byte("not an array"), 0o644))

	_, err := ReadVector(path)
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(err.Error(), path))
}

func TestLoad_NoFiles(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"), 0, 0, 3)
	assert.ErrorIs(t, err, ErrNoFeatures)
}

func TestLoad_StartPastEnd(t *testing.T) {
	dir := t.TempDir()
	writeNpy(t, filepath.Join(dir, "a.npy"), []float64{1})
	_, err := Load(dir+string(filepath.Separator), 1, 0, 1)
	assert.ErrorIs(t, err, ErrNoFeatures)
}

func TestSequence_IDsAt(t *testing.T) {
	seq, err := NewSequence([]string{"a", "b", "c"}, 0, [][]float64{{1}, {2}, {3}})
	require.NoError(t, err)

	ids, err := seq.IDsAt([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids)

	_, err = seq.IDsAt([]int{3})
	assert.Error(t, err)
}
