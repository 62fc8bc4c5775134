// Package episode draws stochastic selection masks from a policy's
// per-position probabilities.
package episode

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrInvalidProbability indicates a probability outside [0,1] or NaN.
	ErrInvalidProbability = errors.New("invalid probability")
	// ErrNonFinite indicates a log-probability that is not finite.
	ErrNonFinite = errors.New("non-finite log-probability")
)

// Episode is one sampled action mask and its log-probability under the
// independent Bernoulli distributions that produced it.
type Episode struct {
	Mask    []bool
	LogProb float64
}

// MeanLogProb is the log-probability averaged over positions.
func (e Episode) MeanLogProb() float64 {
	if len(e.Mask) == 0 {
		return 0
	}
	return e.LogProb / float64(len(e.Mask))
}

// Selected returns the number of mask-positive positions.
func (e Episode) Selected() int {
	n := 0
	for _, on := range e.Mask {
		if on {
			n++
		}
	}
	return n
}

// Sampler draws independent Bernoulli masks. It is not safe for concurrent use.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler creates a sampler drawing from rng.
func NewSampler(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

// Sample draws a fresh mask from probs. Position i fires when a uniform draw
// in [0,1) falls below probs[i], so probabilities of exactly 0 and 1 are
// deterministic.
func (s *Sampler) Sample(probs []float64) (Episode, error) {
	ep := Episode{Mask: make([]bool, len(probs))}
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Episode{}, fmt.Errorf("%w: position %d has probability %v", ErrInvalidProbability, i, p)
		}
		on := s.rng.Float64() < p
		ep.Mask[i] = on
		ep.LogProb += LogProb(p, on)
	}
	if math.IsNaN(ep.LogProb) || math.IsInf(ep.LogProb, 0) {
		return Episode{}, fmt.Errorf("%w: %v", ErrNonFinite, ep.LogProb)
	}
	return ep, nil
}

// LogProb is log P(outcome) for a Bernoulli(p) variable. Only the realised
// branch is evaluated, so log(0) never appears for a reachable outcome.
func LogProb(p float64, outcome bool) float64 {
	if outcome {
		return math.Log(p)
	}
	return math.Log1p(-p)
}
