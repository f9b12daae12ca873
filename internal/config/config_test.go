package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
# demo run
train_root: /data/isic/train
validation_root: "/data/isic/val"
epochs: 3
batch_size: 12
queue_capacity: 4
class_weights: true
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/isic/train", cfg.TrainRoot)
	assert.Equal(t, "/data/isic/val", cfg.ValidationRoot)
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, 12, cfg.BatchSize)
	assert.Equal(t, 4, cfg.QueueCapacity)
	assert.True(t, cfg.ClassWeights)
	assert.Equal(t, 6, cfg.NumWorkers)
	assert.Equal(t, 224, cfg.ImageSize)
	assert.Equal(t, 8, cfg.NumClasses)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "train_root: /x\nbogus: 1\n"))
	assert.ErrorContains(t, err, "parse config")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "open config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"ok", func(*Config) {}, ""},
		{"no root", func(c *Config) { c.TrainRoot = "" }, "train_root"},
		{"epochs", func(c *Config) { c.Epochs = 0 }, "epochs"},
		{"batch", func(c *Config) { c.BatchSize = -1 }, "batch_size"},
		{"workers", func(c *Config) { c.NumWorkers = 0 }, "num_workers"},
		{"queue", func(c *Config) { c.QueueCapacity = -2 }, "queue_capacity"},
		{"size", func(c *Config) { c.ImageSize = 0 }, "image_size"},
		{"classes", func(c *Config) { c.NumClasses = 0 }, "num_classes"},
		{"lr", func(c *Config) { c.LearningRate = 0 }, "learning_rate"},
		{"rate", func(c *Config) { c.MaxSamplesPerSec = -1 }, "max_samples_per_sec"},
		{"level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.TrainRoot = "/data"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{TrainRoot: "/t", BatchSize: 3, NumWorkers: 2, LogLevel: "warn"})
	assert.Equal(t, "/t", cfg.TrainRoot)
	assert.Equal(t, 3, cfg.BatchSize)
	assert.Equal(t, 2, cfg.NumWorkers)
	assert.Equal(t, 50, cfg.Epochs)

	level, err := ParseLevel(cfg.LogLevel)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}

func TestLoadLeavesValidationToCaller(t *testing.T) {
	cfg, err := Load(writeConfig(t, "epochs: 2\n"))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	cfg.ApplyOverrides(Overrides{TrainRoot: "/t", TestRoot: "/held-out"})
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/held-out", cfg.TestRoot)
}
