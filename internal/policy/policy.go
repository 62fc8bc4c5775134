// Package policy provides the selection policy: a bidirectional recurrent
// encoder that scores every position of a feature sequence.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDimensionMismatch indicates the input width differs from the configured input dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrEmptySequence indicates a sequence with no positions.
	ErrEmptySequence = errors.New("empty sequence")
	// ErrInvalidSpec indicates an unusable model specification.
	ErrInvalidSpec = errors.New("invalid model spec")
	// ErrIncompatible indicates a snapshot that does not fit the model.
	ErrIncompatible = errors.New("incompatible snapshot")
)

// Policy maps a feature sequence to a per-position selection probability.
type Policy interface {
	// Probabilities returns one value in [0,1] per row of x.
	Probabilities(x mat.Matrix) ([]float64, error)
}

// Cell selects the recurrent unit used by the encoder.
type Cell string

const (
	CellLSTM Cell = "lstm"
	CellGRU  Cell = "gru"
)

// ParseCell accepts "lstm", "gru" and their "bi-" prefixed spellings in any case.
// The encoder is always bidirectional, so the prefix carries no extra meaning.
func ParseCell(s string) (Cell, error) {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "bi-")
	switch Cell(name) {
	case CellLSTM, CellGRU:
		return Cell(name), nil
	default:
		return "", fmt.Errorf("%w: unknown rnn cell %q", ErrInvalidSpec, s)
	}
}

// Spec describes the shape of a Model.
type Spec struct {
	InputDim  int
	HiddenDim int
	NumLayers int
	Cell      Cell
}

// Validate checks the spec can build a model.
func (s Spec) Validate() error {
	if s.InputDim <= 0 {
		return fmt.Errorf("%w: input dim must be positive", ErrInvalidSpec)
	}
	if s.HiddenDim <= 0 {
		return fmt.Errorf("%w: hidden dim must be positive", ErrInvalidSpec)
	}
	if s.NumLayers <= 0 {
		return fmt.Errorf("%w: num layers must be positive", ErrInvalidSpec)
	}
	if _, err := ParseCell(string(s.Cell)); err != nil {
		return err
	}
	return nil
}
