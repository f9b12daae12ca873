package loader

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchTensorsShape(t *testing.T) {
	gen := newTestGenerator(t, seq(6), indexSource(), 3, 1, 1)
	ctx := context.Background()
	require.NoError(t, gen.Start(ctx))
	defer gen.Stop()

	b, err := gen.PopBatch(ctx)
	require.NoError(t, err)
	x, y := b.Tensors()
	b.Release()
	defer x.FinalizeAll()
	defer y.FinalizeAll()

	assert.Equal(t, []int{3, 1, 2, 2}, x.Shape().Dimensions)
	assert.Equal(t, []int{3, 3}, y.Shape().Dimensions)
}

func TestDatasetYieldsEveryBatchPerEpoch(t *testing.T) {
	base := indexSource()
	src := SourceFunc(func(ctx context.Context, index int) (Sample, error) {
		if index == 4 {
			return Sample{}, errors.New("unreadable")
		}
		return base(ctx, index)
	})
	gen := newTestGenerator(t, seq(12), src, 2, 2, 2)
	ds := NewDataset(context.Background(), "train", gen)
	assert.Equal(t, "train", ds.Name())

	for epoch := 0; epoch < 2; epoch++ {
		count := 0
		for {
			spec, inputs, labels, err := ds.Yield()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			assert.Equal(t, ds, spec)
			require.Len(t, inputs, 1)
			require.Len(t, labels, 1)
			assert.Equal(t, []int{2, 1, 2, 2}, inputs[0].Shape().Dimensions)
			inputs[0].FinalizeAll()
			labels[0].FinalizeAll()
			count++
		}
		assert.Equal(t, 5, count, "epoch %d skips the failed slot", epoch)
		ds.Reset()
		assert.Equal(t, Stopped, gen.State())
	}
}
