package optim

import "math"

// StepLR decays the learning rate by Gamma every StepSize epochs.
// A non-positive StepSize keeps the base rate.
type StepLR struct {
	Base     float64
	StepSize int
	Gamma    float64
}

// Rate returns the learning rate for a zero-based epoch.
func (s StepLR) Rate(epoch int) float64 {
	if s.StepSize <= 0 || epoch < 0 {
		return s.Base
	}
	return s.Base * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}
