package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"lesion-forge/internal/augment"
	"lesion-forge/internal/dataset"
	"lesion-forge/internal/loader"
	"lesion-forge/internal/metrics"
	"lesion-forge/internal/model"
)

// pixelScale maps decoded 0..255 pixels to 0..1 before the model sees them.
const pixelScale = 1.0 / 255

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Dataset *dataset.Dataset

	Epochs        int
	BatchSize     int
	NumWorkers    int
	QueueCapacity int
	ImageSize     int
	LearningRate  float64
	Seed          int64

	Augment          bool
	ClassWeights     bool
	MaxSamplesPerSec float64

	LogEvery      int
	ExpName       string
	CheckpointDir string
	StatsFile     string
	Logger        *slog.Logger
}

// Result summarises a finished run.
type Result struct {
	RunID        string
	BestAccuracy float64
	// BestEpoch is -1 until a validation accuracy above zero is seen.
	BestEpoch int
	Checkpoints  []string
	Model        *model.Softmax
}

// Run trains for cfg.Epochs epochs. Each epoch reshuffles the training
// split, traverses it once through a loader, then evaluates the validation
// split when it has samples. The best validation accuracy is checkpointed;
// without a validation split every epoch is.
func Run(ctx context.Context, cfg RunConfig) (Result, error) {
	if cfg.Dataset == nil {
		return Result{}, errors.New("trainer: dataset is nil")
	}
	if cfg.Epochs <= 0 {
		return Result{}, errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return Result{}, errors.New("trainer: batch size must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 1
	}
	if cfg.ExpName == "" {
		cfg.ExpName = "run"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res := Result{RunID: uuid.NewString(), BestEpoch: -1}
	logger = logger.With("run_id", res.RunID)

	ds := cfg.Dataset
	trainPipeline := augment.Validation(cfg.ImageSize, cfg.ImageSize)
	if cfg.Augment {
		trainPipeline = augment.Training(cfg.ImageSize, cfg.ImageSize)
	}
	trainSrc, err := dataset.NewImageSource(ds, dataset.SourceOptions{
		Width:            cfg.ImageSize,
		Height:           cfg.ImageSize,
		Pipeline:         trainPipeline,
		Seed:             cfg.Seed,
		MaxSamplesPerSec: cfg.MaxSamplesPerSec,
	})
	if err != nil {
		return res, fmt.Errorf("trainer: %w", err)
	}
	valSrc, err := dataset.NewImageSource(ds, dataset.SourceOptions{
		Width:            cfg.ImageSize,
		Height:           cfg.ImageSize,
		Seed:             cfg.Seed,
		MaxSamplesPerSec: cfg.MaxSamplesPerSec,
	})
	if err != nil {
		return res, fmt.Errorf("trainer: %w", err)
	}

	trainGen, err := NewGenerator(ds.Split(dataset.Training), trainSrc, cfg, logger)
	if err != nil {
		return res, err
	}
	var valGen *loader.Generator
	if ds.Split(dataset.Validation).Len() > 0 {
		if valGen, err = NewGenerator(ds.Split(dataset.Validation), valSrc, cfg, logger); err != nil {
			return res, err
		}
	}

	shape := trainSrc.Shape()
	mdl := model.NewSoftmax(shape.Classes, shape.FeatureSize(), cfg.LearningRate, cfg.Seed)
	if cfg.ClassWeights {
		weights, err := model.MedianFrequencyWeights(ds.ClassCounts(dataset.Training))
		if err != nil {
			return res, fmt.Errorf("trainer: %w", err)
		}
		if err := mdl.SetClassWeights(weights); err != nil {
			return res, fmt.Errorf("trainer: %w", err)
		}
		logger.Info("class weights", "weights", weights)
	}
	res.Model = mdl

	rng := rand.New(rand.NewSource(cfg.Seed))
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		epochStart := time.Now()
		ds.Split(dataset.Training).Shuffle(rng)
		trainSrc.SetEpoch(epoch)

		if err := trainEpoch(ctx, epoch, cfg, trainGen, mdl, logger); err != nil {
			return res, err
		}
		logger.Info("epoch done", "epoch", epoch, "elapsed", time.Since(epochStart).Round(time.Millisecond))

		if valGen == nil {
			path, err := checkpoint(cfg, mdl, epoch)
			if err != nil {
				return res, err
			}
			if path != "" {
				res.Checkpoints = append(res.Checkpoints, path)
			}
			continue
		}

		acc, err := Evaluate(ctx, mdl, valGen, logger.With("epoch", epoch))
		if err != nil {
			return res, err
		}
		mean := acc.Mean()
		_, spread := acc.BatchSpread()
		logger.Info("validation", "epoch", epoch, "categorical_accuracy", mean, "batch_std", spread, "batches", acc.Batches())

		if mean > res.BestAccuracy {
			res.BestAccuracy, res.BestEpoch = mean, epoch
			path, err := checkpoint(cfg, mdl, epoch)
			if err != nil {
				return res, err
			}
			if path != "" {
				logger.Info("saved weights", "path", path)
				res.Checkpoints = append(res.Checkpoints, path)
			}
		}
		if err := appendStats(cfg.StatsFile, epoch, mean); err != nil {
			return res, err
		}
	}
	return res, nil
}

// NewGenerator builds a loader over split with the run's batching knobs.
func NewGenerator(split *dataset.Split, src *dataset.ImageSource, cfg RunConfig, logger *slog.Logger) (*loader.Generator, error) {
	gen, err := loader.NewGenerator(split, src, loader.Options{
		BatchSize:     cfg.BatchSize,
		Workers:       cfg.NumWorkers,
		QueueCapacity: cfg.QueueCapacity,
		Shape:         src.Shape(),
		Logger:        logger.With("split", split.Kind().String()),
	})
	if err != nil {
		return nil, fmt.Errorf("trainer: %s loader: %w", split.Kind(), err)
	}
	return gen, nil
}

func trainEpoch(ctx context.Context, epoch int, cfg RunConfig, gen *loader.Generator, mdl model.Model, logger *slog.Logger) error {
	if err := gen.Start(ctx); err != nil {
		return fmt.Errorf("trainer: start loader: %w", err)
	}
	defer gen.Stop()

	var window metrics.Window
	batches := gen.Batches()
	for j := 0; gen.HasNext(); j++ {
		depth := gen.Size()
		startData := time.Now()
		b, err := gen.PopBatch(ctx)
		var slotErr *loader.SlotError
		if errors.As(err, &slotErr) {
			logger.Warn("batch skipped", "epoch", epoch, "batch", j, "slot", slotErr.Slot, "err", slotErr.Err)
			continue
		}
		if err != nil {
			return fmt.Errorf("trainer: epoch %d batch %d: %w", epoch, j, err)
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		b.Scale(pixelScale)
		loss := mdl.TrainStep(model.FromLoader(b))
		b.Release()
		computeTime := time.Since(startCompute)

		window.Record(cfg.BatchSize, dataTime, computeTime, loss, depth)

		if (j+1)%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			logger.Info("step",
				"epoch", epoch,
				"batch", fmt.Sprintf("%d/%d", j, batches-1),
				"fifo", snap.AvgQueueDepth,
				"images_per_sec", snap.ImagesPerSec,
				"data_ms", snap.AvgDataMS,
				"compute_ms", snap.AvgComputeMS,
				"loss", snap.LastLoss)
		}
	}
	return nil
}

// Evaluate runs one traversal of gen through mdl and returns the accuracy.
// Batches are consumed as gomlx tensors through a loader.Dataset, which
// skips failed slots.
func Evaluate(ctx context.Context, mdl *model.Softmax, gen *loader.Generator, logger *slog.Logger) (metrics.Accuracy, error) {
	var acc metrics.Accuracy
	data := loader.NewDataset(ctx, "evaluation", gen)
	defer data.Reset()

	for j := 0; ; j++ {
		_, inputs, labels, err := data.Yield()
		if errors.Is(err, io.EOF) {
			return acc, nil
		}
		if err != nil {
			return acc, fmt.Errorf("trainer: evaluate batch %d: %w", j, err)
		}
		batch, err := model.FromTensors(inputs[0], labels[0])
		inputs[0].FinalizeAll()
		labels[0].FinalizeAll()
		if err != nil {
			return acc, fmt.Errorf("trainer: evaluate batch %d: %w", j, err)
		}
		batch.Scale(pixelScale)
		batchAcc := acc.Add(mdl.Correct(batch), batch.Size)
		logger.Debug("evaluation batch", "batch", j, "categorical_accuracy", batchAcc)
	}
}

func checkpoint(cfg RunConfig, mdl *model.Softmax, epoch int) (string, error) {
	if cfg.CheckpointDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(cfg.CheckpointDir, 0o755); err != nil {
		return "", fmt.Errorf("trainer: checkpoint dir: %w", err)
	}
	path := filepath.Join(cfg.CheckpointDir, fmt.Sprintf("%s_epoch_%d.json", cfg.ExpName, epoch))
	if err := mdl.Save(path); err != nil {
		return "", fmt.Errorf("trainer: checkpoint: %w", err)
	}
	return path, nil
}

func appendStats(path string, epoch int, accuracy float64) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("trainer: stats file: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "Epoch %d - Total categorical accuracy: %g\n", epoch, accuracy); err != nil {
		return fmt.Errorf("trainer: stats file: %w", err)
	}
	return nil
}
