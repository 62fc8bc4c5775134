// Package optim updates policy parameters from their accumulated gradients.
package optim

import (
	"math"

	"github.com/cartridge/summarizer/internal/policy"
)

// Optimizer applies one update to params using their current gradients.
type Optimizer interface {
	Step(params []*policy.Param)
	LearningRate() float64
	SetLearningRate(lr float64)
}

// AdamConfig holds Adam hyperparameters. WeightDecay is an L2 penalty added
// to the gradient before the moment updates.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdam returns the usual Adam constants with the given rate and decay.
func DefaultAdam(lr, weightDecay float64) AdamConfig {
	return AdamConfig{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  weightDecay,
	}
}

type moments struct {
	m []float64
	v []float64
}

// Adam implements bias-corrected Adam.
type Adam struct {
	cfg   AdamConfig
	step  int
	state map[*policy.Param]*moments
}

// NewAdam constructs an Adam optimizer.
func NewAdam(cfg AdamConfig) *Adam {
	return &Adam{cfg: cfg, state: make(map[*policy.Param]*moments)}
}

// LearningRate implements Optimizer.
func (a *Adam) LearningRate() float64 { return a.cfg.LearningRate }

// SetLearningRate implements Optimizer.
func (a *Adam) SetLearningRate(lr float64) { a.cfg.LearningRate = lr }

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int { return a.step }

// Step implements Optimizer.
func (a *Adam) Step(params []*policy.Param) {
	a.step++
	c1 := 1 - math.Pow(a.cfg.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.cfg.Beta2, float64(a.step))

	for _, p := range params {
		rows, cols := p.Value.Dims()
		st, ok := a.state[p]
		if !ok {
			st = &moments{m: make([]float64, rows*cols), v: make([]float64, rows*cols)}
			a.state[p] = st
		}
		for i := 0; i < rows; i++ {
			val := p.Value.RawRowView(i)
			grad := p.Grad.RawRowView(i)
			for j := 0; j < cols; j++ {
				k := i*cols + j
				g := grad[j] + a.cfg.WeightDecay*val[j]
				st.m[k] = a.cfg.Beta1*st.m[k] + (1-a.cfg.Beta1)*g
				st.v[k] = a.cfg.Beta2*st.v[k] + (1-a.cfg.Beta2)*g*g
				mHat := st.m[k] / c1
				vHat := st.v[k] / c2
				val[j] -= a.cfg.LearningRate * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon)
			}
		}
	}
}
