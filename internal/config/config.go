package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	TrainRoots []string      `yaml:"train_roots"`
	EvalRoot   string        `yaml:"eval_root"`
	OutDir     string        `yaml:"out_dir"`
	HistoryDB  string        `yaml:"history_db"`
	BatchSize  int           `yaml:"batch_size"`
	NumWorkers int           `yaml:"num_workers"`
	Seed       int64         `yaml:"seed"`
	ImageSize  int           `yaml:"image_size"`
	Channels   int           `yaml:"channels"`
	Models     []ModelConfig `yaml:"models"`
}

// ModelConfig describes one member of the assemble and its learning table.
type ModelConfig struct {
	Network     string  `yaml:"network"`
	NumClasses  int     `yaml:"num_classes"`
	LR          float64 `yaml:"lr"`
	Momentum    float64 `yaml:"momentum"`
	WeightDecay float64 `yaml:"weight_decay"`
	Epochs      int     `yaml:"epochs"`
	// Weights, when set, is a checkpoint loaded before training starts.
	Weights         string `yaml:"weights"`
	CheckpointEvery int    `yaml:"checkpoint_every"`
	AttentionEvery  int    `yaml:"attention_every"`
	// Schedule is "", "poly" or "warmup".
	Schedule     string  `yaml:"schedule"`
	PolyPower    float64 `yaml:"poly_power"`
	WarmupEpochs int     `yaml:"warmup_epochs"`
	WarmupLR     float64 `yaml:"warmup_lr"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	TrainRoots []string
	EvalRoot   string
	OutDir     string
	HistoryDB  string
	BatchSize  int
	NumWorkers int
	Seed       int64
	Epochs     int
}

// Load reads and validates a Config from YAML. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := &Config{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override. Epochs applies to
// every model.
func (c *Config) ApplyOverrides(o Overrides) {
	if len(o.TrainRoots) > 0 {
		c.TrainRoots = o.TrainRoots
	}
	if o.EvalRoot != "" {
		c.EvalRoot = o.EvalRoot
	}
	if o.OutDir != "" {
		c.OutDir = o.OutDir
	}
	if o.HistoryDB != "" {
		c.HistoryDB = o.HistoryDB
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Epochs > 0 {
		for i := range c.Models {
			c.Models[i].Epochs = o.Epochs
		}
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.TrainRoots) == 0 {
		return errors.New("at least one training root must be set")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.ImageSize <= 0 {
		c.ImageSize = 32
	}
	if c.Channels == 0 {
		c.Channels = 3
	}
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("channels must be 1 or 3 (got %d)", c.Channels)
	}
	if c.OutDir == "" {
		c.OutDir = "out"
	}
	if len(c.Models) == 0 {
		return errors.New("at least one model must be configured")
	}
	for i := range c.Models {
		if err := c.Models[i].validate(); err != nil {
			return fmt.Errorf("models[%d]: %w", i, err)
		}
	}
	return nil
}

func (m *ModelConfig) validate() error {
	if m.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be > 0 (got %d)", m.NumClasses)
	}
	if m.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", m.Epochs)
	}
	if m.Network == "" {
		m.Network = "linear"
	}
	if m.LR <= 0 {
		m.LR = 0.1
	}
	switch m.Schedule {
	case "", "poly":
	case "warmup":
		if m.WarmupEpochs <= 0 {
			m.WarmupEpochs = 10
		}
		if m.WarmupLR <= 0 {
			m.WarmupLR = 1e-2
		}
	default:
		return fmt.Errorf("unknown schedule %q", m.Schedule)
	}
	return nil
}
