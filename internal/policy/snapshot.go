package policy

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a named, row-major copy of one parameter.
type Tensor struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

// Snapshot is a detached copy of a model's parameters.
type Snapshot struct {
	Spec    Spec
	Tensors []Tensor
}

// Snapshot copies the current parameter values.
func (m *Model) Snapshot() Snapshot {
	snap := Snapshot{Spec: m.spec, Tensors: make([]Tensor, 0, len(m.params))}
	for _, p := range m.params {
		r, c := p.Value.Dims()
		data := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			data = append(data, p.Value.RawRowView(i)...)
		}
		snap.Tensors = append(snap.Tensors, Tensor{Name: p.Name, Rows: r, Cols: c, Data: data})
	}
	return snap
}

// Restore overwrites the parameters with a snapshot taken from a model of the
// same spec. Nothing is modified unless every tensor matches.
func (m *Model) Restore(snap Snapshot) error {
	cell, err := ParseCell(string(snap.Spec.Cell))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncompatible, err)
	}
	got := snap.Spec
	got.Cell = cell
	if got != m.spec {
		return fmt.Errorf("%w: snapshot spec %+v, model spec %+v", ErrIncompatible, snap.Spec, m.spec)
	}

	byName := make(map[string]Tensor, len(snap.Tensors))
	for _, t := range snap.Tensors {
		if _, dup := byName[t.Name]; dup {
			return fmt.Errorf("%w: duplicate tensor %q", ErrIncompatible, t.Name)
		}
		byName[t.Name] = t
	}
	if len(byName) != len(m.params) {
		return fmt.Errorf("%w: snapshot has %d tensors, model has %d", ErrIncompatible, len(byName), len(m.params))
	}
	for _, p := range m.params {
		t, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing tensor %q", ErrIncompatible, p.Name)
		}
		r, c := p.Value.Dims()
		if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return fmt.Errorf("%w: tensor %q is %dx%d (%d values), want %dx%d", ErrIncompatible, t.Name, t.Rows, t.Cols, len(t.Data), r, c)
		}
	}
	for _, p := range m.params {
		t := byName[p.Name]
		p.Value.Copy(mat.NewDense(t.Rows, t.Cols, append([]float64(nil), t.Data...)))
	}
	return nil
}
