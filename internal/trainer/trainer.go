// Package trainer runs REINFORCE over a single feature sequence: it samples
// selections from the policy, scores them, and updates the policy against a
// moving-average baseline.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/cartridge/summarizer/internal/config"
	"github.com/cartridge/summarizer/internal/episode"
	"github.com/cartridge/summarizer/internal/features"
	"github.com/cartridge/summarizer/internal/metrics"
	"github.com/cartridge/summarizer/internal/optim"
	"github.com/cartridge/summarizer/internal/policy"
	"github.com/cartridge/summarizer/internal/reward"
	"github.com/cartridge/summarizer/internal/selection"
	"github.com/cartridge/summarizer/internal/types"
)

var (
	// ErrNonFinite indicates a cost or gradient that is NaN or infinite.
	ErrNonFinite = errors.New("non-finite value")
	// ErrInvalidConfig indicates settings that cannot run against the loaded sequence.
	ErrInvalidConfig = errors.New("invalid trainer configuration")
	// ErrInvalidTransition indicates a state change the run lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Notifier receives epoch records. Notify must not block.
type Notifier interface {
	Notify(record types.EpochRecord) bool
}

// Deps are the collaborators of a Trainer. Model, Sequence and Recorder are
// required; the rest default when nil.
type Deps struct {
	Model     *policy.Model
	Sequence  *features.Sequence
	Recorder  selection.Recorder
	Optimizer optim.Optimizer
	Sampler   *episode.Sampler
	Notifier  Notifier
	Collector *metrics.Collector
	Logger    zerolog.Logger
	RunID     string
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	Epochs     int
	Baseline   float64
	BestReward float64
	BestPicks  []int
	BestIDs    []string
	Elapsed    time.Duration
}

// Trainer owns the per-run training state. Run and Evaluate must be called
// from one goroutine; Status is safe from any.
type Trainer struct {
	cfg       *config.Config
	model     *policy.Model
	seq       *features.Sequence
	recorder  selection.Recorder
	opt       optim.Optimizer
	sampler   *episode.Sampler
	notifier  Notifier
	collector *metrics.Collector
	logger    zerolog.Logger
	runID     string
	schedule  optim.StepLR

	baseline Baseline
	best     Best

	mu     sync.RWMutex
	status types.Status
}

// New validates the configuration against the loaded sequence and model and
// builds a Trainer.
func New(cfg *config.Config, deps Deps) (*Trainer, error) {
	if deps.Model == nil || deps.Sequence == nil || deps.Recorder == nil {
		return nil, fmt.Errorf("%w: model, sequence and recorder are required", ErrInvalidConfig)
	}
	if d, want := deps.Sequence.Dim(), deps.Model.Spec().InputDim; d != want {
		return nil, fmt.Errorf("%w: features have %d values, model expects %d: %w", ErrInvalidConfig, d, want, policy.ErrDimensionMismatch)
	}
	if n := deps.Sequence.Len(); cfg.Picks <= 0 || cfg.Picks > n {
		return nil, fmt.Errorf("%w: %d picks from %d items: %w", ErrInvalidConfig, cfg.Picks, n, reward.ErrInvalidPickCount)
	}
	if cfg.NumEpisode <= 0 {
		return nil, fmt.Errorf("%w: num_episode must be positive", ErrInvalidConfig)
	}

	t := &Trainer{
		cfg:       cfg,
		model:     deps.Model,
		seq:       deps.Sequence,
		recorder:  deps.Recorder,
		opt:       deps.Optimizer,
		sampler:   deps.Sampler,
		notifier:  deps.Notifier,
		collector: deps.Collector,
		logger:    deps.Logger,
		runID:     deps.RunID,
		schedule:  optim.StepLR{Base: cfg.LR, StepSize: cfg.StepSize, Gamma: cfg.Gamma},
	}
	if t.opt == nil {
		t.opt = optim.NewAdam(optim.DefaultAdam(cfg.LR, cfg.WeightDecay))
	}
	if t.sampler == nil {
		t.sampler = episode.NewSampler(rand.New(rand.NewSource(cfg.Seed)))
	}
	if t.collector == nil {
		t.collector = metrics.NewCollector(t.logger)
	}
	t.status = types.Status{
		RunID:    t.runID,
		State:    types.TrainerStateIdle,
		MaxEpoch: cfg.MaxEpoch,
	}
	return t, nil
}

// Status returns a copy of the live run state.
func (t *Trainer) Status() types.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Clone()
}

// Run trains for MaxEpoch epochs. Cancellation is observed between epochs.
func (t *Trainer) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	t.mu.Lock()
	t.status.StartedAt = started.UTC()
	t.status.UpdatedAt = started.UTC()
	t.mu.Unlock()

	if err := t.recorder.Reset(); err != nil {
		return t.summary(0, started), t.fail(fmt.Errorf("reset selection record: %w", err))
	}

	t.logger.Info().
		Int("max_epoch", t.cfg.MaxEpoch).
		Int("items", t.seq.Len()).
		Int("picks", t.cfg.Picks).
		Int("num_episode", t.cfg.NumEpisode).
		Msg("Start training")

	for epoch := 0; epoch < t.cfg.MaxEpoch; epoch++ {
		if err := ctx.Err(); err != nil {
			return t.summary(epoch, started), t.fail(fmt.Errorf("stopped before epoch %d: %w", epoch+1, err))
		}
		epochStart := time.Now()
		record, err := t.runEpoch(epoch)
		if err != nil {
			return t.summary(epoch, started), t.fail(err)
		}
		t.collector.EpochCompleted(record, time.Since(epochStart))
		if t.notifier != nil {
			t.notifier.Notify(record)
		}
	}

	if err := t.transition(types.TrainerStateDone); err != nil {
		return t.summary(t.cfg.MaxEpoch, started), err
	}
	summary := t.summary(t.cfg.MaxEpoch, started)
	t.logger.Info().
		Dur("elapsed", summary.Elapsed).
		Float64("best_reward", summary.BestReward).
		Ints("best_picks", summary.BestPicks).
		Msg("Finished training")
	return summary, nil
}

func (t *Trainer) runEpoch(epoch int) (types.EpochRecord, error) {
	num := epoch + 1
	lr := t.schedule.Rate(epoch)
	t.opt.SetLearningRate(lr)

	pass, err := t.model.Forward(t.seq.Features)
	if err != nil {
		return types.EpochRecord{}, fmt.Errorf("epoch %d: forward: %w", num, err)
	}
	if err := t.transition(types.TrainerStateProbabilityComputed); err != nil {
		return types.EpochRecord{}, err
	}

	probs := pass.Probs
	n := float64(len(probs))
	meanP := floats.Sum(probs) / n
	beta := t.cfg.Beta
	cost := beta * (meanP - 0.5) * (meanP - 0.5)

	// Gradient of cost w.r.t. the logits; sigmoid'(z) = p(1-p).
	dLogits := make([]float64, len(probs))
	for i, p := range probs {
		dLogits[i] = beta * 2 * (meanP - 0.5) * p * (1 - p) / n
	}

	base := t.baseline.Value()
	rewards := make([]float64, t.cfg.NumEpisode)
	for e := 0; e < t.cfg.NumEpisode; e++ {
		ep, err := t.sampler.Sample(probs)
		if err != nil {
			return types.EpochRecord{}, fmt.Errorf("epoch %d episode %d: sample: %w", num, e+1, err)
		}
		res, err := reward.Compute(t.seq.Features, ep.Mask, t.cfg.Picks, probs)
		if err != nil {
			return types.EpochRecord{}, fmt.Errorf("epoch %d episode %d: reward: %w", num, e+1, err)
		}
		if t.best.Offer(res) {
			t.collector.BestImproved(t.runID, num, e+1, res.Reward, res.Picks)
		}

		advantage := res.Reward - base
		cost -= ep.MeanLogProb() * advantage
		for i, on := range ep.Mask {
			a := 0.0
			if on {
				a = 1
			}
			dLogits[i] -= advantage * (a - probs[i]) / n
		}
		rewards[e] = res.Reward

		if t.cfg.Verbose {
			t.collector.EpisodeScored(t.runID, num, e+1, res.Reward, ep.MeanLogProb(), res.Picks)
		}
	}
	if err := t.transition(types.TrainerStateEpisodesScored); err != nil {
		return types.EpochRecord{}, err
	}

	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return types.EpochRecord{}, fmt.Errorf("epoch %d: cost %v: %w", num, cost, ErrNonFinite)
	}
	t.model.ZeroGrad()
	if err := t.model.Backward(pass, dLogits); err != nil {
		return types.EpochRecord{}, fmt.Errorf("epoch %d: backward: %w", num, err)
	}
	params := t.model.Params()
	for _, p := range params {
		if !p.GradFinite() {
			return types.EpochRecord{}, fmt.Errorf("epoch %d: gradient of %s: %w", num, p.Name, ErrNonFinite)
		}
	}
	t.opt.Step(params)
	if err := t.transition(types.TrainerStateParametersUpdated); err != nil {
		return types.EpochRecord{}, err
	}

	meanReward := floats.Sum(rewards) / float64(len(rewards))
	baseline := t.baseline.Update(meanReward)
	if err := t.transition(types.TrainerStateBaselineUpdated); err != nil {
		return types.EpochRecord{}, err
	}

	picks := t.best.Picks()
	ids, err := t.seq.IDsAt(picks)
	if err != nil {
		return types.EpochRecord{}, fmt.Errorf("epoch %d: %w", num, err)
	}
	if err := t.recorder.Write(t.seq.Start, ids); err != nil {
		return types.EpochRecord{}, fmt.Errorf("epoch %d: write selection record: %w", num, err)
	}
	if err := t.transition(types.TrainerStateBestTracked); err != nil {
		return types.EpochRecord{}, err
	}

	now := time.Now().UTC()
	record := types.EpochRecord{
		RunID:        t.runID,
		Epoch:        num,
		MaxEpoch:     t.cfg.MaxEpoch,
		MeanReward:   meanReward,
		Baseline:     baseline,
		Cost:         cost,
		LearningRate: lr,
		BestReward:   t.best.Reward(),
		BestPicks:    picks,
		RecordedAt:   now,
	}

	t.mu.Lock()
	t.status.Epoch = num
	t.status.Baseline = baseline
	t.status.LastMeanReward = meanReward
	t.status.BestReward = record.BestReward
	t.status.BestPicks = picks
	t.status.BestIDs = ids
	t.status.UpdatedAt = now
	t.mu.Unlock()

	if err := t.transition(types.TrainerStateIdle); err != nil {
		return types.EpochRecord{}, err
	}
	return record, nil
}

// Evaluate scores the deterministic selection p >= 0.5, reconciled to the
// configured pick count, and writes it to the selection record. Parameters
// are not updated.
func (t *Trainer) Evaluate(ctx context.Context) (Summary, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return t.summary(0, started), t.fail(err)
	}

	probs, err := t.model.Probabilities(t.seq.Features)
	if err != nil {
		return t.summary(0, started), t.fail(fmt.Errorf("evaluate: forward: %w", err))
	}
	mask := make([]bool, len(probs))
	for i, p := range probs {
		mask[i] = p >= 0.5
	}
	res, err := reward.Compute(t.seq.Features, mask, t.cfg.Picks, probs)
	if err != nil {
		return t.summary(0, started), t.fail(fmt.Errorf("evaluate: reward: %w", err))
	}
	t.best.Offer(res)

	ids, err := t.seq.IDsAt(res.Picks)
	if err != nil {
		return t.summary(0, started), t.fail(fmt.Errorf("evaluate: %w", err))
	}
	if err := t.recorder.Reset(); err != nil {
		return t.summary(0, started), t.fail(fmt.Errorf("reset selection record: %w", err))
	}
	if err := t.recorder.Write(t.seq.Start, ids); err != nil {
		return t.summary(0, started), t.fail(fmt.Errorf("evaluate: write selection record: %w", err))
	}

	t.mu.Lock()
	t.status.StartedAt = started.UTC()
	t.status.LastMeanReward = res.Reward
	t.status.BestReward = res.Reward
	t.status.BestPicks = append([]int(nil), res.Picks...)
	t.status.BestIDs = ids
	t.status.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()

	if err := t.transition(types.TrainerStateDone); err != nil {
		return t.summary(0, started), err
	}

	t.logger.Info().
		Float64("reward", res.Reward).
		Float64("diversity", res.Diversity).
		Float64("representativeness", res.Representativeness).
		Int("selected", countTrue(mask)).
		Ints("picks", res.Picks).
		Msg("Evaluation finished")
	return t.summary(0, started), nil
}

func (t *Trainer) transition(next types.TrainerState) error {
	t.mu.Lock()
	from := t.status.State
	if !from.CanTransition(next) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	t.status.State = next
	t.mu.Unlock()
	t.collector.StateTransition(t.runID, from, next)
	return nil
}

func (t *Trainer) fail(err error) error {
	t.mu.Lock()
	from := t.status.State
	if !from.Terminal() {
		t.status.State = types.TrainerStateFailed
	}
	t.status.LastError = err.Error()
	t.status.UpdatedAt = time.Now().UTC()
	t.mu.Unlock()
	if !from.Terminal() {
		t.collector.StateTransition(t.runID, from, types.TrainerStateFailed)
	}
	t.logger.Error().Err(err).Msg("Training failed")
	return err
}

func (t *Trainer) summary(epochs int, started time.Time) Summary {
	picks := t.best.Picks()
	ids, _ := t.seq.IDsAt(picks)
	return Summary{
		RunID:      t.runID,
		Epochs:     epochs,
		Baseline:   t.baseline.Value(),
		BestReward: t.best.Reward(),
		BestPicks:  picks,
		BestIDs:    ids,
		Elapsed:    time.Since(started),
	}
}

func countTrue(mask []bool) int {
	n := 0
	for _, on := range mask {
		if on {
			n++
		}
	}
	return n
}
