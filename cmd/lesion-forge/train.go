package main

import (
	"github.com/spf13/cobra"

	"lesion-forge/internal/trainer"
)

func newTrainCmd() *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier on the configured shards",
		Args:  cobra.NoArgs,
		RunE:  TrainHandler,
	}
	trainCmd.Flags().Int("epochs", 0, "Number of epochs")
	trainCmd.Flags().Int("log-every", 0, "Log every N steps")
	return trainCmd
}

// TrainHandler runs a full training job and reports the best epoch.
func TrainHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()

	ds, err := openDataset(ctx, cfg, logger)
	if err != nil {
		return err
	}

	res, err := trainer.Run(ctx, trainer.RunConfig{
		Dataset:          ds,
		Epochs:           cfg.Epochs,
		BatchSize:        cfg.BatchSize,
		NumWorkers:       cfg.NumWorkers,
		QueueCapacity:    cfg.QueueCapacity,
		ImageSize:        cfg.ImageSize,
		LearningRate:     cfg.LearningRate,
		Seed:             cfg.Seed,
		Augment:          cfg.Augment,
		ClassWeights:     cfg.ClassWeights,
		MaxSamplesPerSec: cfg.MaxSamplesPerSec,
		LogEvery:         cfg.LogEvery,
		ExpName:          cfg.ExpName,
		CheckpointDir:    cfg.CheckpointDir,
		StatsFile:        cfg.StatsFile,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	logger.Info("training finished",
		"run_id", res.RunID,
		"best_epoch", res.BestEpoch,
		"best_accuracy", res.BestAccuracy,
		"checkpoints", len(res.Checkpoints))
	return nil
}
