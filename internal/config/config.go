package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cartridge/summarizer/internal/policy"
)

// Config holds all training configuration
type Config struct {
	// Input
	FeaturePath string `mapstructure:"path_to_features"`
	StartIdx    int    `mapstructure:"start_idx"`
	Length      int    `mapstructure:"length"`

	// Model
	Classes   int    `mapstructure:"classes"`
	HiddenDim int    `mapstructure:"hidden_dim"`
	NumLayers int    `mapstructure:"num_layers"`
	RNNCell   string `mapstructure:"rnn_cell"`

	// Optimization
	LR          float64 `mapstructure:"lr"`
	WeightDecay float64 `mapstructure:"weight_decay"`
	MaxEpoch    int     `mapstructure:"max_epoch"`
	StepSize    int     `mapstructure:"stepsize"`
	Gamma       float64 `mapstructure:"gamma"`
	NumEpisode  int     `mapstructure:"num_episode"`
	Picks       int     `mapstructure:"number_of_picks"`
	Beta        float64 `mapstructure:"beta"`
	Seed        int64   `mapstructure:"seed"`

	// Runtime
	Device   string `mapstructure:"device"`
	UseCPU   bool   `mapstructure:"use_cpu"`
	Evaluate bool   `mapstructure:"evaluate"`
	Resume   string `mapstructure:"resume"`

	// Output
	SaveDir      string `mapstructure:"save_dir"`
	SelectionDir string `mapstructure:"selection_dir"`

	// Integrations; empty disables
	StatusAddr  string `mapstructure:"status_addr"`
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
	HistoryDSN  string `mapstructure:"history_dsn"`

	// Progress monitor; zero StallAfter disables
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	StallAfter      time.Duration `mapstructure:"stall_after"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	Verbose   bool   `mapstructure:"verbose"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		Classes:         19,
		HiddenDim:       256,
		NumLayers:       1,
		RNNCell:         "lstm",
		LR:              1e-2,
		WeightDecay:     1e-5,
		MaxEpoch:        10,
		StepSize:        10,
		Gamma:           0.1,
		NumEpisode:      1,
		Picks:           2,
		Beta:            0.01,
		Seed:            1,
		Device:          "cpu",
		SaveDir:         "log",
		SelectionDir:    "selection",
		NATSSubject:     "summarizer.runs",
		MonitorInterval: 30 * time.Second,
		StallAfter:      10 * time.Minute,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.FeaturePath == "" {
		return fmt.Errorf("path_to_features is required")
	}
	if c.StartIdx < 0 {
		return fmt.Errorf("start_idx must be non-negative")
	}
	if c.Length < 0 {
		return fmt.Errorf("length must be non-negative")
	}
	if c.Classes <= 0 {
		return fmt.Errorf("classes must be positive")
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("hidden_dim must be positive")
	}
	if c.NumLayers <= 0 {
		return fmt.Errorf("num_layers must be positive")
	}
	if _, err := policy.ParseCell(c.RNNCell); err != nil {
		return fmt.Errorf("rnn_cell: %w", err)
	}
	if c.LR < 0 {
		return fmt.Errorf("lr must be non-negative")
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be non-negative")
	}
	if c.MaxEpoch < 0 {
		return fmt.Errorf("max_epoch must be non-negative")
	}
	if c.StepSize < 0 {
		return fmt.Errorf("stepsize must be non-negative")
	}
	if c.Gamma <= 0 {
		return fmt.Errorf("gamma must be positive")
	}
	if c.NumEpisode <= 0 {
		return fmt.Errorf("num_episode must be positive")
	}
	if c.Picks <= 0 {
		return fmt.Errorf("number_of_picks must be positive")
	}
	if c.Beta < 0 {
		return fmt.Errorf("beta must be non-negative")
	}
	if c.Evaluate && c.Resume == "" {
		return fmt.Errorf("evaluate requires resume")
	}
	if c.SelectionDir == "" {
		return fmt.Errorf("selection_dir is required")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("nats_subject is required when nats_url is set")
	}
	if c.StallAfter < 0 {
		return fmt.Errorf("stall_after must be non-negative")
	}
	if c.StallAfter > 0 && c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor_interval must be positive when stall_after is set")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// ResolvedDevice returns the compute device the run will use. Only cpu is
// supported; fallback reports whether a different device was requested.
func (c *Config) ResolvedDevice() (device string, fallback bool) {
	if c.UseCPU || c.Device == "" || strings.EqualFold(c.Device, "cpu") {
		return "cpu", false
	}
	return "cpu", true
}

// ModelSpec builds the policy shape from the configuration.
func (c *Config) ModelSpec() (policy.Spec, error) {
	cell, err := policy.ParseCell(c.RNNCell)
	if err != nil {
		return policy.Spec{}, err
	}
	return policy.Spec{
		InputDim:  c.Classes,
		HiddenDim: c.HiddenDim,
		NumLayers: c.NumLayers,
		Cell:      cell,
	}, nil
}
