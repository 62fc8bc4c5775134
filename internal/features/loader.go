// Package features loads the per-item feature vectors a run trains on.
package features

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoFeatures indicates the pattern matched nothing usable.
	ErrNoFeatures = errors.New("no features")
	// ErrDimensionMismatch indicates a feature file of the wrong width.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
)

// Sequence is an ordered set of feature vectors and the identifiers of the
// items they came from. Row i of Features belongs to IDs[i].
type Sequence struct {
	IDs      []string
	Start    int
	Features *mat.Dense
}

// NewSequence builds a sequence from rows of equal width.
func NewSequence(ids []string, start int, rows [][]float64) (*Sequence, error) {
	if len(rows) == 0 {
		return nil, ErrNoFeatures
	}
	if len(ids) != len(rows) {
		return nil, fmt.Errorf("%d ids for %d feature rows", len(ids), len(rows))
	}
	dim := len(rows[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: %s has no values", ErrDimensionMismatch, ids[0])
	}
	data := make([]float64, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrDimensionMismatch, ids[i], len(r), dim)
		}
		data = append(data, r...)
	}
	return &Sequence{
		IDs:      append([]string(nil), ids...),
		Start:    start,
		Features: mat.NewDense(len(rows), dim, data),
	}, nil
}

// Len returns the number of items.
func (s *Sequence) Len() int { return len(s.IDs) }

// Dim returns the feature width.
func (s *Sequence) Dim() int {
	_, c := s.Features.Dims()
	return c
}

// IDsAt maps positions back to item identifiers.
func (s *Sequence) IDsAt(idx []int) ([]string, error) {
	out := make([]string, len(idx))
	for i, j := range idx {
		if j < 0 || j >= len(s.IDs) {
			return nil, fmt.Errorf("position %d out of range [0,%d)", j, len(s.IDs))
		}
		out[i] = s.IDs[j]
	}
	return out, nil
}

// Load reads every file matching pattern+"*" in lexicographic order, skips
// the first start files and keeps length of the rest (0 keeps all). Each
// file is a .npy array that flattens to dim values. Directories are skipped.
func Load(pattern string, start, length, dim int) (*Sequence, error) {
	paths, err := matchFiles(pattern + "*")
	if err != nil {
		return nil, err
	}
	if start < 0 || start >= len(paths) {
		return nil, fmt.Errorf("%w: start %d with %d files matching %q", ErrNoFeatures, start, len(paths), pattern+"*")
	}
	end := len(paths)
	if length > 0 && start+length < end {
		end = start + length
	}
	paths = paths[start:end]

	rows := make([][]float64, len(paths))
	for i, p := range paths {
		v, err := ReadVector(p)
		if err != nil {
			return nil, err
		}
		if dim > 0 && len(v) != dim {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrDimensionMismatch, p, len(v), dim)
		}
		rows[i] = v
	}
	return NewSequence(paths, start, rows)
}

func matchFiles(glob string) ([]string, error) {
	matches, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", glob, err)
	}
	paths := matches[:0]
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadVector reads a .npy file of float64 or float32 values.
func ReadVector(path string) ([]float64, error) {
	v, err := readFloat64(path)
	if err == nil {
		return v, nil
	}
	v32, err32 := readFloat32(path)
	if err32 != nil {
		return nil, err
	}
	out := make([]float64, len(v32))
	for i, x := range v32 {
		out[i] = float64(x)
	}
	return out, nil
}

func readFloat64(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var v []float64
	if err := npyio.Read(f, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

func readFloat32(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var v []float32
	if err := npyio.Read(f, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}
