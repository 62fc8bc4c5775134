package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/summarizer/internal/policy"
)

func valid() *Config {
	cfg := Default()
	cfg.FeaturePath = "features/video_"
	return cfg
}

func TestDefaultMatchesTrainingScript(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 19, cfg.Classes)
	assert.Equal(t, 256, cfg.HiddenDim)
	assert.Equal(t, 1, cfg.NumLayers)
	assert.Equal(t, "lstm", cfg.RNNCell)
	assert.Equal(t, 1e-2, cfg.LR)
	assert.Equal(t, 1e-5, cfg.WeightDecay)
	assert.Equal(t, 10, cfg.MaxEpoch)
	assert.Equal(t, 10, cfg.StepSize)
	assert.Equal(t, 0.1, cfg.Gamma)
	assert.Equal(t, 1, cfg.NumEpisode)
	assert.Equal(t, 0, cfg.StartIdx)
	assert.Equal(t, 2, cfg.Picks)
	assert.Equal(t, 0.01, cfg.Beta)
	assert.Equal(t, int64(1), cfg.Seed)
	assert.Equal(t, "log", cfg.SaveDir)
	assert.Equal(t, "selection", cfg.SelectionDir)
}

func TestValidate(t *testing.T) {
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"missing features":   func(c *Config) { c.FeaturePath = "" },
		"negative start":     func(c *Config) { c.StartIdx = -1 },
		"zero classes":       func(c *Config) { c.Classes = 0 },
		"zero hidden":        func(c *Config) { c.HiddenDim = 0 },
		"zero layers":        func(c *Config) { c.NumLayers = 0 },
		"unknown cell":       func(c *Config) { c.RNNCell = "transformer" },
		"negative lr":        func(c *Config) { c.LR = -1 },
		"negative decay":     func(c *Config) { c.WeightDecay = -1 },
		"negative epochs":    func(c *Config) { c.MaxEpoch = -1 },
		"zero episodes":      func(c *Config) { c.NumEpisode = 0 },
		"zero picks":         func(c *Config) { c.Picks = 0 },
		"negative beta":      func(c *Config) { c.Beta = -0.1 },
		"evaluate no resume": func(c *Config) { c.Evaluate = true },
		"bad log format":     func(c *Config) { c.LogFormat = "xml" },
		"nats no subject":    func(c *Config) { c.NATSURL, c.NATSSubject = "nats://localhost:4222", "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_EvaluateWithResume(t *testing.T) {
	cfg := valid()
	cfg.Evaluate = true
	cfg.Resume = "log/model_epoch10.ckpt"
	assert.NoError(t, cfg.Validate())
}

func TestResolvedDevice(t *testing.T) {
	cfg := valid()
	device, fallback := cfg.ResolvedDevice()
	assert.Equal(t, "cpu", device)
	assert.False(t, fallback)

	cfg.Device = "cuda:0"
	device, fallback = cfg.ResolvedDevice()
	assert.Equal(t, "cpu", device)
	assert.True(t, fallback)

	cfg.UseCPU = true
	_, fallback = cfg.ResolvedDevice()
	assert.False(t, fallback)
}

func TestModelSpec(t *testing.T) {
	cfg := valid()
	cfg.RNNCell = "Bi-GRU"
	spec, err := cfg.ModelSpec()
	require.NoError(t, err)
	assert.Equal(t, policy.Spec{InputDim: 19, HiddenDim: 256, NumLayers: 1, Cell: policy.CellGRU}, spec)
	assert.NoError(t, spec.Validate())
}
