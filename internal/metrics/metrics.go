package metrics

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/summarizer/internal/types"
)

// Metrics collector for training runs
type Collector struct {
	logger zerolog.Logger
}

func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// Track per-epoch summaries
func (c *Collector) EpochCompleted(record types.EpochRecord, elapsed time.Duration) {
	c.logger.Info().
		Str("metric", "epoch_completed").
		Str("run_id", record.RunID).
		Int("epoch", record.Epoch).
		Int("max_epoch", record.MaxEpoch).
		Float64("reward", record.MeanReward).
		Float64("baseline", record.Baseline).
		Float64("cost", record.Cost).
		Float64("lr", record.LearningRate).
		Float64("best_reward", record.BestReward).
		Dur("elapsed", elapsed).
		Msg("Epoch completed")
}

// Track individual episodes; debug level since there may be many per epoch
func (c *Collector) EpisodeScored(runID string, epoch, episode int, reward, meanLogProb float64, picks []int) {
	c.logger.Debug().
		Str("metric", "episode_scored").
		Str("run_id", runID).
		Int("epoch", epoch).
		Int("episode", episode).
		Float64("reward", reward).
		Float64("mean_log_prob", meanLogProb).
		Ints("picks", picks).
		Msg("Episode scored")
}

// Track best-state improvements
func (c *Collector) BestImproved(runID string, epoch, episode int, reward float64, picks []int) {
	c.logger.Info().
		Str("metric", "best_improved").
		Str("run_id", runID).
		Int("epoch", epoch).
		Int("episode", episode).
		Float64("best_reward", reward).
		Ints("best_picks", picks).
		Msg("Best selection improved")
}

// Track trainer state transitions
func (c *Collector) StateTransition(runID string, fromState, toState types.TrainerState) {
	c.logger.Debug().
		Str("metric", "state_transition").
		Str("run_id", runID).
		Str("from_state", string(fromState)).
		Str("to_state", string(toState)).
		Msg("Trainer state transition")
}

// Track API request metrics
func (c *Collector) APIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	c.logger.Info().
		Str("metric", "api_request").
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Dur("duration", duration).
		Msg("API request metric")
}
