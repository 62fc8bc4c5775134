package trainer

import (
	"github.com/cartridge/summarizer/internal/reward"
)

// BaselineDecay is the weight kept by the old baseline on every update.
const BaselineDecay = 0.9

// Baseline is an exponential moving average of mean episode reward.
// The zero value starts at 0.
type Baseline struct {
	value float64
}

// Value returns the current baseline.
func (b *Baseline) Value() float64 { return b.value }

// Update folds one epoch's mean reward into the baseline and returns the
// new value.
func (b *Baseline) Update(mean float64) float64 {
	b.value = BaselineDecay*b.value + (1-BaselineDecay)*mean
	return b.value
}

// Best is the highest-reward selection seen in a run.
type Best struct {
	set    bool
	reward float64
	picks  []int
}

// Empty reports whether nothing has been offered yet.
func (b *Best) Empty() bool { return !b.set }

// Reward returns the best reward, 0 when empty.
func (b *Best) Reward() float64 { return b.reward }

// Picks returns a copy of the best picks.
func (b *Best) Picks() []int { return append([]int(nil), b.picks...) }

// Offer replaces the best state when res strictly improves on it. The first
// offer to an empty state is always accepted.
func (b *Best) Offer(res reward.Result) bool {
	if b.set && !(res.Reward > b.reward) {
		return false
	}
	b.set = true
	b.reward = res.Reward
	b.picks = append([]int(nil), res.Picks...)
	return true
}
