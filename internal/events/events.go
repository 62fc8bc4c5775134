package events

import (
	"context"

	"github.com/cartridge/summarizer/internal/types"
)

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishEpoch(ctx context.Context, record types.EpochRecord) error
	PublishRunStatus(ctx context.Context, event RunStatusEvent) error
}

// RunStatusEvent is emitted when a run starts, finishes or fails.
type RunStatusEvent struct {
	RunID      string             `json:"run_id"`
	State      types.TrainerState `json:"state"`
	Epoch      int                `json:"epoch"`
	MaxEpoch   int                `json:"max_epoch"`
	BestReward float64            `json:"best_reward"`
	LastError  string             `json:"last_error,omitempty"`
}

// NoopPublisher drops everything; useful for tests.
type NoopPublisher struct{}

// PublishEpoch satisfies Publisher.
func (NoopPublisher) PublishEpoch(context.Context, types.EpochRecord) error { return nil }

// PublishRunStatus satisfies Publisher.
func (NoopPublisher) PublishRunStatus(context.Context, RunStatusEvent) error { return nil }
