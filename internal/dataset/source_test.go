package dataset

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lesion-forge/internal/augment"
	"lesion-forge/internal/loader"
)

func newPNGDataset(t *testing.T, n int) *Dataset {
	t.Helper()
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{Key: string(rune('a' + i)), Image: pngBytes(t, 6, 4, uint8(i*10)), Label: i % 3}
	}
	ds, err := New(3, map[Kind][]Record{Training: records})
	require.NoError(t, err)
	return ds
}

func TestImageSourceLoad(t *testing.T) {
	ds := newPNGDataset(t, 4)
	src, err := NewImageSource(ds, SourceOptions{Width: 3, Height: 2})
	require.NoError(t, err)
	assert.Equal(t, loader.Shape{Channels: 3, Height: 2, Width: 3, Classes: 3}, src.Shape())

	sample, err := src.Load(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, sample.Features, 18)
	for _, v := range sample.Features {
		assert.InDelta(t, 20, v, 1)
	}
	assert.Equal(t, []float32{0, 0, 1}, sample.Label)

	_, err = src.Load(context.Background(), 9)
	assert.ErrorContains(t, err, "out of range")
}

func TestImageSourceDecodeFailure(t *testing.T) {
	ds, err := New(2, map[Kind][]Record{Training: {{Key: "bad", Image: []byte("not an image"), Label: 1}}})
	require.NoError(t, err)
	src, err := NewImageSource(ds, SourceOptions{Width: 2, Height: 2})
	require.NoError(t, err)

	_, err = src.Load(context.Background(), 0)
	assert.ErrorContains(t, err, "decode bad")
}

func TestImageSourceAugmentationIsReproducible(t *testing.T) {
	ds := newPNGDataset(t, 2)
	opts := SourceOptions{Width: 4, Height: 4, Pipeline: augment.Training(4, 4), Seed: 11}
	a, err := NewImageSource(ds, opts)
	require.NoError(t, err)
	b, err := NewImageSource(ds, opts)
	require.NoError(t, err)

	sa, err := a.Load(context.Background(), 1)
	require.NoError(t, err)
	sb, err := b.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, sa.Features, sb.Features)
}

func TestImageSourceRateLimitHonoursContext(t *testing.T) {
	ds := newPNGDataset(t, 3)
	src, err := NewImageSource(ds, SourceOptions{Width: 2, Height: 2, MaxSamplesPerSec: 0.001})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = src.Load(ctx, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = src.Load(ctx, 1)
	assert.Error(t, err)
}

func TestImageSourceFeedsGenerator(t *testing.T) {
	ds := newPNGDataset(t, 9)
	src, err := NewImageSource(ds, SourceOptions{Width: 2, Height: 2})
	require.NoError(t, err)

	gen, err := loader.NewGenerator(ds.Split(Training), src, loader.Options{
		BatchSize: 2,
		Workers:   3,
		Shape:     src.Shape(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gen.Start(ctx))
	var got []int
	for {
		b, err := gen.PopBatch(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, b.Indices...)
		b.Release()
	}
	require.NoError(t, gen.Stop())
	sort.Ints(got)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, got)
}
