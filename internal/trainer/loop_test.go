package trainer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lesion-forge/internal/dataset"
	"lesion-forge/internal/model"
)

func shadePNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

// toyDataset has dark images labelled 0 and bright images labelled 1.
func toyDataset(t *testing.T, train, val int) *dataset.Dataset {
	t.Helper()
	dark, bright := shadePNG(t, 20), shadePNG(t, 230)
	records := func(n int, prefix string) []dataset.Record {
		out := make([]dataset.Record, n)
		for i := range out {
			out[i] = dataset.Record{Key: prefix + string(rune('a'+i%26)), Image: dark}
			if i%2 == 1 {
				out[i].Image, out[i].Label = bright, 1
			}
		}
		return out
	}
	ds, err := dataset.New(2, map[dataset.Kind][]dataset.Record{
		dataset.Training:   records(train, "t"),
		dataset.Validation: records(val, "v"),
	})
	require.NoError(t, err)
	return ds
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig(ds *dataset.Dataset, dir string) RunConfig {
	return RunConfig{
		Dataset:       ds,
		Epochs:        3,
		BatchSize:     4,
		NumWorkers:    3,
		QueueCapacity: 2,
		ImageSize:     4,
		LearningRate:  0.5,
		Seed:          5,
		Augment:       true,
		ClassWeights:  true,
		LogEvery:      2,
		ExpName:       "toy",
		CheckpointDir: filepath.Join(dir, "ckpt"),
		StatsFile:     filepath.Join(dir, "toy_stats.txt"),
		Logger:        quietLogger(),
	}
}

func TestRunTrainsAndCheckpoints(t *testing.T) {
	dir := t.TempDir()
	ds := toyDataset(t, 18, 8)
	res, err := Run(context.Background(), baseConfig(ds, dir))
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.GreaterOrEqual(t, res.BestEpoch, 0)
	assert.Greater(t, res.BestAccuracy, 0.0)
	require.NotEmpty(t, res.Checkpoints)

	loaded, err := model.LoadSoftmax(res.Checkpoints[len(res.Checkpoints)-1])
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NumClasses)
	assert.Equal(t, 3*4*4, loaded.InputSize)

	stats, err := os.ReadFile(filepath.Join(dir, "toy_stats.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(stats)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Epoch 0 - Total categorical accuracy: "))

	// Training order was reshuffled but membership is intact.
	assert.Equal(t, 18, ds.Split(dataset.Training).Len())
}

func TestRunWithoutValidationCheckpointsEveryEpoch(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(toyDataset(t, 10, 0), dir)
	cfg.Epochs = 2
	cfg.ClassWeights = false
	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, -1, res.BestEpoch)
	assert.Equal(t, []string{
		filepath.Join(dir, "ckpt", "toy_epoch_0.json"),
		filepath.Join(dir, "ckpt", "toy_epoch_1.json"),
	}, res.Checkpoints)
	_, err = os.Stat(filepath.Join(dir, "toy_stats.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunSkipsUndecodableSamples(t *testing.T) {
	ds, err := dataset.New(2, map[dataset.Kind][]dataset.Record{
		dataset.Training: {
			{Key: "a", Image: shadePNG(t, 10)},
			{Key: "b", Image: []byte("broken"), Label: 1},
			{Key: "c", Image: shadePNG(t, 200), Label: 1},
			{Key: "d", Image: shadePNG(t, 10)},
		},
	})
	require.NoError(t, err)
	cfg := baseConfig(ds, t.TempDir())
	cfg.BatchSize = 1
	cfg.Epochs = 1
	cfg.CheckpointDir = ""
	_, err = Run(context.Background(), cfg)
	require.NoError(t, err)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, baseConfig(toyDataset(t, 12, 4), t.TempDir()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunValidatesConfig(t *testing.T) {
	_, err := Run(context.Background(), RunConfig{})
	assert.Error(t, err)

	cfg := baseConfig(toyDataset(t, 4, 0), t.TempDir())
	cfg.NumWorkers = 0
	_, err = Run(context.Background(), cfg)
	assert.ErrorContains(t, err, "workers")
}

func TestEvaluate(t *testing.T) {
	ds := toyDataset(t, 4, 6)
	src, err := dataset.NewImageSource(ds, dataset.SourceOptions{Width: 2, Height: 2})
	require.NoError(t, err)
	cfg := RunConfig{BatchSize: 2, NumWorkers: 2}
	gen, err := NewGenerator(ds.Split(dataset.Validation), src, cfg, quietLogger())
	require.NoError(t, err)

	mdl := model.NewSoftmax(2, src.Shape().FeatureSize(), 0.1, 1)
	acc, err := Evaluate(context.Background(), mdl, gen, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, acc.Batches())
	assert.GreaterOrEqual(t, acc.Mean(), 0.0)
	assert.LessOrEqual(t, acc.Mean(), 1.0)
}

func TestRunCheckpointsOnlyImprovements(t *testing.T) {
	dark, bright := shadePNG(t, 20), shadePNG(t, 230)
	var train []dataset.Record
	for i := 0; i < 8; i++ {
		rec := dataset.Record{Key: string(rune('a' + i)), Image: dark}
		if i%2 == 1 {
			rec.Image, rec.Label = bright, 1
		}
		train = append(train, rec)
	}
	// Class 2 never appears in training, so the model never predicts it.
	val := []dataset.Record{
		{Key: "v0", Image: dark, Label: 2},
		{Key: "v1", Image: bright, Label: 2},
	}
	ds, err := dataset.New(3, map[dataset.Kind][]dataset.Record{
		dataset.Training:   train,
		dataset.Validation: val,
	})
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := baseConfig(ds, dir)
	cfg.Epochs = 2
	cfg.BatchSize = 2
	cfg.ClassWeights = false
	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, -1, res.BestEpoch)
	assert.Zero(t, res.BestAccuracy)
	assert.Empty(t, res.Checkpoints)
	_, err = os.Stat(filepath.Join(dir, "ckpt"))
	assert.True(t, os.IsNotExist(err))

	stats, err := os.ReadFile(filepath.Join(dir, "toy_stats.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Epoch 0 - Total categorical accuracy: 0\nEpoch 1 - Total categorical accuracy: 0\n", string(stats))
}
