package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lesion-forge/internal/dataset"
	"lesion-forge/internal/model"
	"lesion-forge/internal/trainer"
)

func newEvaluateCmd() *cobra.Command {
	evalCmd := &cobra.Command{
		Use:   "evaluate CHECKPOINT",
		Short: "Report the categorical accuracy of a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  EvaluateHandler,
	}
	evalCmd.Flags().String("split", "test", "Split to evaluate (validation or test)")
	return evalCmd
}

// EvaluateHandler loads a checkpoint and runs one traversal of the chosen
// split through it.
func EvaluateHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()

	splitName, _ := cmd.Flags().GetString("split")
	var kind dataset.Kind
	switch splitName {
	case "validation":
		kind = dataset.Validation
	case "test":
		kind = dataset.Test
	default:
		return fmt.Errorf("unknown split %q", splitName)
	}

	mdl, err := model.LoadSoftmax(args[0])
	if err != nil {
		return err
	}

	ds, err := openDataset(ctx, cfg, logger)
	if err != nil {
		return err
	}
	split := ds.Split(kind)
	if split.Len() == 0 {
		return fmt.Errorf("%s split is empty", kind)
	}

	src, err := dataset.NewImageSource(ds, dataset.SourceOptions{
		Width:  cfg.ImageSize,
		Height: cfg.ImageSize,
		Seed:   cfg.Seed,
	})
	if err != nil {
		return err
	}
	shape := src.Shape()
	if mdl.InputSize != shape.FeatureSize() || mdl.NumClasses != shape.Classes {
		return fmt.Errorf("checkpoint expects %d inputs and %d classes, dataset yields %d and %d",
			mdl.InputSize, mdl.NumClasses, shape.FeatureSize(), shape.Classes)
	}

	gen, err := trainer.NewGenerator(split, src, trainer.RunConfig{
		BatchSize:     cfg.BatchSize,
		NumWorkers:    cfg.NumWorkers,
		QueueCapacity: cfg.QueueCapacity,
	}, logger)
	if err != nil {
		return err
	}
	acc, err := trainer.Evaluate(ctx, mdl, gen, logger)
	if err != nil {
		return err
	}

	_, spread := acc.BatchSpread()
	fmt.Printf("%s categorical accuracy: %.4f (per-batch std %.4f, %d batches)\n", kind, acc.Mean(), spread, acc.Batches())
	return nil
}
