package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// TrainerState enumerates the per-epoch lifecycle of a training run.
type TrainerState string

const (
	TrainerStateIdle                TrainerState = "idle"
	TrainerStateProbabilityComputed TrainerState = "probability_computed"
	TrainerStateEpisodesScored      TrainerState = "episodes_scored"
	TrainerStateParametersUpdated   TrainerState = "parameters_updated"
	TrainerStateBaselineUpdated     TrainerState = "baseline_updated"
	TrainerStateBestTracked         TrainerState = "best_tracked"
	TrainerStateDone                TrainerState = "done"
	TrainerStateFailed              TrainerState = "failed"
)

var trainerTransitions = map[TrainerState][]TrainerState{
	TrainerStateIdle:                {TrainerStateProbabilityComputed, TrainerStateDone},
	TrainerStateProbabilityComputed: {TrainerStateEpisodesScored},
	TrainerStateEpisodesScored:      {TrainerStateParametersUpdated},
	TrainerStateParametersUpdated:   {TrainerStateBaselineUpdated},
	TrainerStateBaselineUpdated:     {TrainerStateBestTracked},
	TrainerStateBestTracked:         {TrainerStateIdle},
}

// CanTransition reports whether the state machine allows moving from s to next.
// Any non-terminal state may move to failed.
func (s TrainerState) CanTransition(next TrainerState) bool {
	if next == TrainerStateFailed {
		return !s.Terminal()
	}
	for _, allowed := range trainerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s TrainerState) Terminal() bool {
	return s == TrainerStateDone || s == TrainerStateFailed
}

// EpochRecord is the per-epoch summary emitted by the trainer.
type EpochRecord struct {
	RunID        string    `json:"run_id"`
	Epoch        int       `json:"epoch"`
	MaxEpoch     int       `json:"max_epoch"`
	MeanReward   float64   `json:"mean_reward"`
	Baseline     float64   `json:"baseline"`
	Cost         float64   `json:"cost"`
	LearningRate float64   `json:"learning_rate"`
	BestReward   float64   `json:"best_reward"`
	BestPicks    []int     `json:"best_picks"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Validate ensures the record respects schema invariants.
func (r EpochRecord) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id is required")
	}
	if r.Epoch < 1 {
		return fmt.Errorf("epoch must be positive, got %d", r.Epoch)
	}
	if r.MaxEpoch > 0 && r.Epoch > r.MaxEpoch {
		return fmt.Errorf("epoch %d exceeds max_epoch %d", r.Epoch, r.MaxEpoch)
	}
	for name, v := range map[string]float64{
		"mean_reward":   r.MeanReward,
		"baseline":      r.Baseline,
		"cost":          r.Cost,
		"learning_rate": r.LearningRate,
		"best_reward":   r.BestReward,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite", name)
		}
	}
	return nil
}

// Status is a point-in-time view of a training run.
type Status struct {
	RunID          string       `json:"run_id"`
	State          TrainerState `json:"state"`
	Epoch          int          `json:"epoch"`
	MaxEpoch       int          `json:"max_epoch"`
	Baseline       float64      `json:"baseline"`
	LastMeanReward float64      `json:"last_mean_reward"`
	BestReward     float64      `json:"best_reward"`
	BestPicks      []int        `json:"best_picks"`
	BestIDs        []string     `json:"best_ids"`
	StartedAt      time.Time    `json:"started_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	LastError      string       `json:"last_error,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Status) Clone() Status {
	s.BestPicks = append([]int(nil), s.BestPicks...)
	s.BestIDs = append([]string(nil), s.BestIDs...)
	return s
}
