package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/summarizer/internal/events"
	"github.com/cartridge/summarizer/internal/types"
)

// StatusSource exposes the live state of a training run.
type StatusSource interface {
	Status() types.Status
}

// Config holds progress monitoring configuration
type Config struct {
	CheckInterval time.Duration
	StallAfter    time.Duration
}

// Monitor watches a run for epochs that stop completing
type Monitor struct {
	source    StatusSource
	publisher events.Publisher
	config    Config
	logger    zerolog.Logger

	stalledAt time.Time // UpdatedAt of the status already reported as stalled
}

// NewMonitor creates a new progress monitor
func NewMonitor(source StatusSource, publisher events.Publisher, config Config, logger zerolog.Logger) *Monitor {
	return &Monitor{
		source:    source,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}
}

// Start begins the monitoring loop and returns when ctx is done
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("check_interval", m.config.CheckInterval).
		Dur("stall_after", m.config.StallAfter).
		Msg("Starting progress monitor")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Progress monitor stopped")
			return
		case now := <-ticker.C:
			m.Check(ctx, now)
		}
	}
}

// Check reports the run as stalled when its status has not changed for
// StallAfter. Each stall is reported once. It returns true when a stall was
// reported.
func (m *Monitor) Check(ctx context.Context, now time.Time) bool {
	st := m.source.Status()
	if st.State.Terminal() || st.UpdatedAt.IsZero() {
		return false
	}
	if now.Sub(st.UpdatedAt) < m.config.StallAfter {
		return false
	}
	if st.UpdatedAt.Equal(m.stalledAt) {
		return false
	}
	m.stalledAt = st.UpdatedAt
	m.markStalled(ctx, st, now)
	return true
}

func (m *Monitor) markStalled(ctx context.Context, st types.Status, now time.Time) {
	m.logger.Warn().
		Str("run_id", st.RunID).
		Str("state", string(st.State)).
		Int("epoch", st.Epoch).
		Time("last_update", st.UpdatedAt).
		Dur("idle", now.Sub(st.UpdatedAt)).
		Msg("Training run stalled")

	event := events.RunStatusEvent{
		RunID:      st.RunID,
		State:      st.State,
		Epoch:      st.Epoch,
		MaxEpoch:   st.MaxEpoch,
		BestReward: st.BestReward,
		LastError:  "no epoch completed within " + m.config.StallAfter.String(),
	}
	if err := m.publisher.PublishRunStatus(ctx, event); err != nil {
		m.logger.Error().Err(err).Str("run_id", st.RunID).Msg("Failed to publish stall event")
	}
}
