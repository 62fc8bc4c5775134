package policy

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type layer struct {
	fwd recurrent
	bwd recurrent
}

// Model is a stacked bidirectional recurrent encoder followed by a linear
// projection to one unit and a sigmoid. Each layer concatenates its forward
// and backward hidden states, so every score sees the whole sequence.
type Model struct {
	spec   Spec
	layers []layer
	headW  *Param
	headB  *Param
	params []*Param
}

// New builds a randomly initialized model.
func New(spec Spec, rng *rand.Rand) (*Model, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cell, _ := ParseCell(string(spec.Cell))
	spec.Cell = cell

	m := &Model{spec: spec}
	in := spec.InputDim
	for l := 0; l < spec.NumLayers; l++ {
		ly := layer{
			fwd: newRecurrent(cell, layerPrefix(l, false), in, spec.HiddenDim, rng),
			bwd: newRecurrent(cell, layerPrefix(l, true), in, spec.HiddenDim, rng),
		}
		m.layers = append(m.layers, ly)
		m.params = append(m.params, ly.fwd.params()...)
		m.params = append(m.params, ly.bwd.params()...)
		in = 2 * spec.HiddenDim
	}
	bound := 1 / math.Sqrt(float64(in))
	m.headW = newParam("head.w", 1, in, bound, rng)
	m.headB = newParam("head.b", 1, 1, bound, rng)
	m.params = append(m.params, m.headW, m.headB)
	return m, nil
}

// Spec returns the model's shape.
func (m *Model) Spec() Spec { return m.spec }

// Params returns the trainable parameters in a stable order.
func (m *Model) Params() []*Param { return m.params }

// ZeroGrad clears every parameter gradient.
func (m *Model) ZeroGrad() {
	for _, p := range m.params {
		p.ZeroGrad()
	}
}

type layerPass struct {
	fwd *cellPass
	bwd *cellPass
	out *mat.Dense
}

// Pass is the differentiable record of one forward evaluation.
type Pass struct {
	Probs  []float64
	Logits []float64
	layers []layerPass
}

// Len returns the number of positions scored.
func (p *Pass) Len() int { return len(p.Probs) }

// Forward scores every row of x. x must have InputDim columns.
func (m *Model) Forward(x mat.Matrix) (*Pass, error) {
	n, d := x.Dims()
	if n == 0 {
		return nil, ErrEmptySequence
	}
	if d != m.spec.InputDim {
		return nil, fmt.Errorf("%w: got %d features per position, model expects %d", ErrDimensionMismatch, d, m.spec.InputDim)
	}

	h := m.spec.HiddenDim
	in := mat.DenseCopyOf(x)
	pass := &Pass{
		Probs:  make([]float64, n),
		Logits: make([]float64, n),
		layers: make([]layerPass, len(m.layers)),
	}
	for l, ly := range m.layers {
		fp := ly.fwd.forward(in, false)
		bp := ly.bwd.forward(in, true)
		out := mat.NewDense(n, 2*h, nil)
		out.Slice(0, n, 0, h).(*mat.Dense).Copy(fp.h)
		out.Slice(0, n, h, 2*h).(*mat.Dense).Copy(bp.h)
		pass.layers[l] = layerPass{fwd: fp, bwd: bp, out: out}
		in = out
	}

	w := m.headW.Value.RawRowView(0)
	b := m.headB.Value.At(0, 0)
	for t := 0; t < n; t++ {
		z := floats.Dot(in.RawRowView(t), w) + b
		pass.Logits[t] = z
		pass.Probs[t] = sigmoid(z)
	}
	return pass, nil
}

// Probabilities implements Policy.
func (m *Model) Probabilities(x mat.Matrix) ([]float64, error) {
	pass, err := m.Forward(x)
	if err != nil {
		return nil, err
	}
	return pass.Probs, nil
}

// Backward accumulates into the parameter gradients the derivative of a
// scalar cost whose gradient w.r.t. the pre-sigmoid logits is dLogits.
func (m *Model) Backward(pass *Pass, dLogits []float64) error {
	n := pass.Len()
	if len(dLogits) != n {
		return fmt.Errorf("%w: %d logit gradients for %d positions", ErrDimensionMismatch, len(dLogits), n)
	}
	h := m.spec.HiddenDim
	top := pass.layers[len(pass.layers)-1].out
	_, width := top.Dims()

	w := m.headW.Value.RawRowView(0)
	wGrad := m.headW.Grad.RawRowView(0)
	dOut := mat.NewDense(n, width, nil)
	var bGrad float64
	for t, dz := range dLogits {
		floats.AddScaled(wGrad, dz, top.RawRowView(t))
		floats.AddScaled(dOut.RawRowView(t), dz, w)
		bGrad += dz
	}
	m.headB.Grad.Set(0, 0, m.headB.Grad.At(0, 0)+bGrad)

	for l := len(m.layers) - 1; l >= 0; l-- {
		lp := pass.layers[l]
		dFwd := mat.DenseCopyOf(dOut.Slice(0, n, 0, h))
		dBwd := mat.DenseCopyOf(dOut.Slice(0, n, h, 2*h))
		dx := m.layers[l].fwd.backward(lp.fwd, dFwd)
		dx.Add(dx, m.layers[l].bwd.backward(lp.bwd, dBwd))
		dOut = dx
	}
	return nil
}
