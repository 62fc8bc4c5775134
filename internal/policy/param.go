package policy

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is a trainable tensor with its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, rows, cols int, bound float64, rng *rand.Rand) *Param {
	p := &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
	p.Value.Apply(func(_, _ int, _ float64) float64 {
		return (2*rng.Float64() - 1) * bound
	}, p.Value)
	return p
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// GradFinite reports whether every gradient entry is finite.
func (p *Param) GradFinite() bool {
	r, c := p.Grad.Dims()
	for i := 0; i < r; i++ {
		for _, v := range p.Grad.RawRowView(i)[:c] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// accumulate adds a·b into dst.
func accumulate(dst *mat.Dense, a, b mat.Matrix) {
	var prod mat.Dense
	prod.Mul(a, b)
	dst.Add(dst, &prod)
}

// addColumnSums adds the column sums of m into the single-row dst.
func addColumnSums(dst *mat.Dense, m *mat.Dense) {
	row := dst.RawRowView(0)
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i) {
			row[j] += v
		}
	}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// positions returns the order in which a direction visits a sequence of length n.
func positions(n int, reverse bool) []int {
	order := make([]int, n)
	for i := range order {
		if reverse {
			order[i] = n - 1 - i
		} else {
			order[i] = i
		}
	}
	return order
}
