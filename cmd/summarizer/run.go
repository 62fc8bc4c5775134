package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cartridge/summarizer/internal/checkpoint"
	"github.com/cartridge/summarizer/internal/config"
	"github.com/cartridge/summarizer/internal/events"
	"github.com/cartridge/summarizer/internal/features"
	"github.com/cartridge/summarizer/internal/health"
	httpServer "github.com/cartridge/summarizer/internal/http"
	"github.com/cartridge/summarizer/internal/metrics"
	"github.com/cartridge/summarizer/internal/policy"
	"github.com/cartridge/summarizer/internal/selection"
	"github.com/cartridge/summarizer/internal/storage"
	"github.com/cartridge/summarizer/internal/trainer"
	"github.com/cartridge/summarizer/internal/types"
)

const eventBuffer = 256

func runSummarizer(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	runID := uuid.New().String()
	logger, logFile, err := newLogger(cfg, runID)
	if err != nil {
		return err
	}
	defer logFile.Close()

	logger.Info().Interface("config", cfg).Msg("Args")
	if device, fallback := cfg.ResolvedDevice(); fallback {
		logger.Warn().Str("requested", cfg.Device).Str("device", device).Msg("Device unavailable, falling back")
	} else {
		logger.Info().Msg("Currently using CPU")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("path", cfg.FeaturePath).Msg("Initialize dataset")
	seq, err := features.Load(cfg.FeaturePath, cfg.StartIdx, cfg.Length, cfg.Classes)
	if err != nil {
		return fmt.Errorf("load features: %w", err)
	}
	logger.Info().Int("items", seq.Len()).Int("dim", seq.Dim()).Int("start", seq.Start).Msg("Dataset loaded")

	model, err := buildModel(cfg, logger)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(logger)

	var history storage.HistoryStore = storage.NewMemoryStore()
	if cfg.HistoryDSN != "" {
		pg, err := storage.OpenPostgres(ctx, cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("open epoch history: %w", err)
		}
		history = pg
	}
	defer history.Close()

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nats.Close()
		publisher = nats
	}

	dispatcher := events.NewDispatcher(eventBuffer, logger,
		events.SinkFunc(history.AppendEpoch),
		events.PublisherSink(publisher),
	)
	dispatcher.Start(context.Background())
	defer dispatcher.Close()

	tr, err := trainer.New(cfg, trainer.Deps{
		Model:     model,
		Sequence:  seq,
		Recorder:  selection.NewFileRecorder(cfg.SelectionDir),
		Notifier:  dispatcher,
		Collector: collector,
		Logger:    logger,
		RunID:     runID,
	})
	if err != nil {
		return err
	}

	if cfg.StatusAddr != "" {
		shutdown := serveStatus(cfg.StatusAddr, httpServer.NewServer(tr, history, collector, logger), logger)
		defer shutdown()
	}

	if cfg.StallAfter > 0 && !cfg.Evaluate {
		monitorCtx, stopMonitor := context.WithCancel(ctx)
		defer stopMonitor()
		monitor := health.NewMonitor(tr, publisher, health.Config{
			CheckInterval: cfg.MonitorInterval,
			StallAfter:    cfg.StallAfter,
		}, logger)
		go monitor.Start(monitorCtx)
	}

	var summary trainer.Summary
	if cfg.Evaluate {
		summary, err = tr.Evaluate(ctx)
	} else {
		summary, err = tr.Run(ctx)
	}
	publishStatus(publisher, tr.Status(), logger)
	if err != nil {
		return err
	}

	logger.Info().
		Str("elapsed", summary.Elapsed.Round(time.Second).String()).
		Int("epochs", summary.Epochs).
		Float64("best_reward", summary.BestReward).
		Strs("best_ids", summary.BestIDs).
		Msg("Finished")

	if !cfg.Evaluate {
		path := filepath.Join(cfg.SaveDir, checkpoint.FileName(cfg.MaxEpoch))
		if err := checkpoint.Save(path, model.Snapshot()); err != nil {
			return fmt.Errorf("save model: %w", err)
		}
		logger.Info().Str("path", path).Msg("Model saved")
	}
	return nil
}

func buildModel(cfg *config.Config, logger zerolog.Logger) (*policy.Model, error) {
	spec, err := cfg.ModelSpec()
	if err != nil {
		return nil, err
	}
	model, err := policy.New(spec, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	if cfg.Resume == "" {
		return model, nil
	}

	logger.Info().Str("path", cfg.Resume).Msg("Loading checkpoint")
	snap, err := checkpoint.Load(cfg.Resume)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if err := model.Restore(snap); err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", cfg.Resume, err)
	}
	return model, nil
}

// newLogger writes to stdout and tees into the run log under SaveDir.
func newLogger(cfg *config.Config, runID string) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	if cfg.Verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}

	if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("create save dir: %w", err)
	}
	name := "log_train.txt"
	if cfg.Evaluate {
		name = "log_test.txt"
	}
	file, err := os.OpenFile(filepath.Join(cfg.SaveDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open run log: %w", err)
	}

	var stdout io.Writer = os.Stdout
	if strings.EqualFold(cfg.LogFormat, "console") {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(stdout, file)).
		Level(level).
		With().
		Timestamp().
		Str("run_id", runID).
		Logger()
	return logger, file, nil
}

func serveStatus(addr string, server *httpServer.Server, logger zerolog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info().Str("addr", addr).Msg("status HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("status server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		<-done
	}
}

func publishStatus(publisher events.Publisher, st types.Status, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	event := events.RunStatusEvent{
		RunID:      st.RunID,
		State:      st.State,
		Epoch:      st.Epoch,
		MaxEpoch:   st.MaxEpoch,
		BestReward: st.BestReward,
		LastError:  st.LastError,
	}
	if err := publisher.PublishRunStatus(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish run status")
	}
}
