package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lesion-forge/internal/config"
	"lesion-forge/internal/dataset"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewCLI().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// NewCLI wires the root command and its subcommands.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lesion-forge",
		Short:        "Skin lesion classifier trainer",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config")
	rootCmd.PersistentFlags().String("train-root", "", "Override training shard root")
	rootCmd.PersistentFlags().String("validation-root", "", "Override validation shard root")
	rootCmd.PersistentFlags().String("test-root", "", "Override test shard root")
	rootCmd.PersistentFlags().Int("batch-size", 0, "Batch size")
	rootCmd.PersistentFlags().Int("num-workers", 0, "Number of data loader workers")
	rootCmd.PersistentFlags().Int("queue-capacity", 0, "Completed batches buffered ahead of the consumer")
	rootCmd.PersistentFlags().Int64("seed", 0, "PRNG seed")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newTrainCmd(),
		newInspectCmd(),
		newEvaluateCmd(),
	)
	return rootCmd
}

// loadConfig reads --config (or the defaults), applies the flag overrides
// and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	var o config.Overrides
	o.TrainRoot, _ = flags.GetString("train-root")
	o.ValidationRoot, _ = flags.GetString("validation-root")
	o.TestRoot, _ = flags.GetString("test-root")
	o.BatchSize, _ = flags.GetInt("batch-size")
	o.NumWorkers, _ = flags.GetInt("num-workers")
	o.QueueCapacity, _ = flags.GetInt("queue-capacity")
	o.Seed, _ = flags.GetInt64("seed")
	o.LogLevel, _ = flags.GetString("log-level")
	if flags.Lookup("epochs") != nil {
		o.Epochs, _ = flags.GetInt("epochs")
	}
	if flags.Lookup("log-every") != nil {
		o.LogEvery, _ = flags.GetInt("log-every")
	}
	cfg.ApplyOverrides(o)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLevel(cfg.LogLevel)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openDataset(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dataset.Dataset, error) {
	return dataset.Open(ctx, dataset.Options{
		Roots: map[dataset.Kind]string{
			dataset.Training:   cfg.TrainRoot,
			dataset.Validation: cfg.ValidationRoot,
			dataset.Test:       cfg.TestRoot,
		},
		NumClasses: cfg.NumClasses,
		Workers:    cfg.NumWorkers,
		Logger:     logger,
	})
}
