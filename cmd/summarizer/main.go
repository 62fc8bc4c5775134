package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cartridge/summarizer/internal/config"
)

var (
	cfg        *config.Config
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "summarizer",
	Short: "Unsupervised frame-selection policy trainer",
	Long: `Trains a bidirectional recurrent policy with REINFORCE to pick a fixed
number of items from a sequence of feature vectors, rewarding selections
that are diverse and representative of the whole sequence.

The chosen item paths are written to <selection-dir>/<start-idx>.txt after
every epoch and the trained parameters are saved under --save-dir.`,
	SilenceUsage: true,
	RunE:         runSummarizer,
}

func init() {
	cfg = config.Default()
	flags := rootCmd.Flags()

	flags.StringVar(&configFile, "config", "", "Optional config file (yaml, json or toml)")

	// Input
	flags.StringVar(&cfg.FeaturePath, "path-to-features", cfg.FeaturePath, "Glob prefix of the .npy feature files")
	flags.IntVar(&cfg.StartIdx, "start-idx", cfg.StartIdx, "Index of the first feature file to use")
	flags.IntVar(&cfg.Length, "length", cfg.Length, "Number of feature files to use (0 for all)")

	// Model
	flags.IntVar(&cfg.Classes, "classes", cfg.Classes, "Feature dimension (number of classes in dataset)")
	flags.IntVar(&cfg.HiddenDim, "hidden-dim", cfg.HiddenDim, "Hidden unit dimension of the recurrent encoder")
	flags.IntVar(&cfg.NumLayers, "num-layers", cfg.NumLayers, "Number of recurrent layers")
	flags.StringVar(&cfg.RNNCell, "rnn-cell", cfg.RNNCell, "Recurrent cell type (lstm, gru, bi-lstm, bi-gru)")

	// Optimization
	flags.Float64Var(&cfg.LR, "lr", cfg.LR, "Learning rate")
	flags.Float64Var(&cfg.WeightDecay, "weight-decay", cfg.WeightDecay, "Weight decay rate")
	flags.IntVar(&cfg.MaxEpoch, "max-epoch", cfg.MaxEpoch, "Maximum epoch for training")
	flags.IntVar(&cfg.StepSize, "stepsize", cfg.StepSize, "Epochs between learning rate decays (0 disables)")
	flags.Float64Var(&cfg.Gamma, "gamma", cfg.Gamma, "Learning rate decay")
	flags.IntVar(&cfg.NumEpisode, "num-episode", cfg.NumEpisode, "Number of episodes per epoch")
	flags.IntVar(&cfg.Picks, "number-of-picks", cfg.Picks, "Number of items to select")
	flags.Float64Var(&cfg.Beta, "beta", cfg.Beta, "Weight of the selection rate penalty")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")

	// Runtime
	flags.StringVar(&cfg.Device, "device", cfg.Device, "Compute device (only cpu is supported)")
	flags.BoolVar(&cfg.UseCPU, "use-cpu", cfg.UseCPU, "Force the cpu device")
	flags.BoolVar(&cfg.Evaluate, "evaluate", cfg.Evaluate, "Only evaluate a resumed model")
	flags.StringVar(&cfg.Resume, "resume", cfg.Resume, "Checkpoint to resume from")

	// Output
	flags.StringVar(&cfg.SaveDir, "save-dir", cfg.SaveDir, "Directory for logs and checkpoints")
	flags.StringVar(&cfg.SelectionDir, "selection-dir", cfg.SelectionDir, "Directory for selection records")

	// Integrations
	flags.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "Status HTTP listen address (empty disables)")
	flags.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server for epoch events (empty disables)")
	flags.StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "NATS subject prefix for events")
	flags.StringVar(&cfg.HistoryDSN, "history-dsn", cfg.HistoryDSN, "PostgreSQL DSN for epoch history (empty keeps it in memory)")

	// Progress monitor
	flags.DurationVar(&cfg.MonitorInterval, "monitor-interval", cfg.MonitorInterval, "How often to check training progress")
	flags.DurationVar(&cfg.StallAfter, "stall-after", cfg.StallAfter, "Report the run as stalled after this long without an epoch (0 disables)")

	// Logging
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (console, json)")
	flags.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Log every episode")

	// Bind flags to viper under their config keys for env and file support
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		viper.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	viper.SetEnvPrefix("SUMMARIZER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig merges flags, environment and the optional config file into cfg.
func loadConfig() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
