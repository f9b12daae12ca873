package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	TrainRoot      string `yaml:"train_root"`
	ValidationRoot string `yaml:"validation_root"`
	TestRoot       string `yaml:"test_root"`

	Epochs        int     `yaml:"epochs"`
	BatchSize     int     `yaml:"batch_size"`
	NumWorkers    int     `yaml:"num_workers"`
	QueueCapacity int     `yaml:"queue_capacity"`
	ImageSize     int     `yaml:"image_size"`
	NumClasses    int     `yaml:"num_classes"`
	LearningRate  float64 `yaml:"learning_rate"`
	Seed          int64   `yaml:"seed"`

	Augment          bool    `yaml:"augment"`
	ClassWeights     bool    `yaml:"class_weights"`
	MaxSamplesPerSec float64 `yaml:"max_samples_per_sec"`

	LogEvery      int    `yaml:"log_every"`
	LogLevel      string `yaml:"log_level"`
	ExpName       string `yaml:"exp_name"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	StatsFile     string `yaml:"stats_file"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	TrainRoot      string
	ValidationRoot string
	TestRoot       string
	Epochs         int
	BatchSize      int
	NumWorkers     int
	QueueCapacity  int
	Seed           int64
	LogEvery       int
	LogLevel       string
}

// Default returns the settings of the reference skin lesion run.
func Default() *Config {
	return &Config{
		Epochs:       50,
		BatchSize:    8,
		NumWorkers:   6,
		ImageSize:    224,
		NumClasses:   8,
		LearningRate: 1e-5,
		Augment:      true,
		LogEvery:     1,
		LogLevel:     "info",
		ExpName:      "skin_lesion_classification",
	}
}

// Load reads a Config from YAML. Keys missing from the file keep their
// Default values. Callers validate after applying overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.TrainRoot != "" {
		c.TrainRoot = o.TrainRoot
	}
	if o.ValidationRoot != "" {
		c.ValidationRoot = o.ValidationRoot
	}
	if o.TestRoot != "" {
		c.TestRoot = o.TestRoot
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.QueueCapacity > 0 {
		c.QueueCapacity = o.QueueCapacity
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.TrainRoot == "" {
		return errors.New("train_root must be set")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must be >= 0 (got %d)", c.QueueCapacity)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image_size must be > 0 (got %d)", c.ImageSize)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be > 0 (got %d)", c.NumClasses)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.MaxSamplesPerSec < 0 {
		return fmt.Errorf("max_samples_per_sec must be >= 0 (got %g)", c.MaxSamplesPerSec)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 1
	}
	if c.ExpName == "" {
		c.ExpName = "run"
	}
	return nil
}

// ParseLevel maps log_level to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
