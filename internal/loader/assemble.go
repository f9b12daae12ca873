package loader

import (
	"context"
	"errors"
	"fmt"
)

// Sample is one labelled example as produced by a Source. Features holds
// Channels x Height x Width values and Label holds Classes values.
type Sample struct {
	Features []float32
	Label    []float32
}

// Source produces the sample with the given dataset index, augmentation
// included. It is called concurrently from every worker.
type Source interface {
	Load(ctx context.Context, index int) (Sample, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, index int) (Sample, error)

// Load implements Source.
func (f SourceFunc) Load(ctx context.Context, index int) (Sample, error) { return f(ctx, index) }

// assembler maps a slot of a split snapshot to its samples and packs them
// into one batch. It holds no per-slot state.
type assembler struct {
	src       Source
	shape     Shape
	batchSize int
	pool      *bufferPool
}

// assemble builds the batch for slot, covering snapshot positions
// slot*batchSize through slot*batchSize+batchSize-1.
func (a *assembler) assemble(ctx context.Context, snapshot []int, slot int) (*Batch, error) {
	features, labels := a.pool.get()
	b := &Batch{
		Slot:     slot,
		Indices:  make([]int, a.batchSize),
		Size:     a.batchSize,
		Shape:    a.shape,
		Features: features,
		Labels:   labels,
		pool:     a.pool,
	}
	start := slot * a.batchSize
	for row := 0; row < a.batchSize; row++ {
		index := snapshot[start+row]
		sample, err := a.load(ctx, index)
		if err != nil {
			b.Release()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &SlotError{Slot: slot, Index: index, Err: err}
		}
		dstFeatures, dstLabel := b.Row(row)
		copy(dstFeatures, sample.Features)
		copy(dstLabel, sample.Label)
		b.Indices[row] = index
	}
	return b, nil
}

// load fetches one sample, retrying the same index once on failure.
func (a *assembler) load(ctx context.Context, index int) (Sample, error) {
	sample, err := a.loadChecked(ctx, index)
	if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return sample, err
	}
	return a.loadChecked(ctx, index)
}

func (a *assembler) loadChecked(ctx context.Context, index int) (Sample, error) {
	sample, err := a.src.Load(ctx, index)
	if err != nil {
		return Sample{}, err
	}
	if len(sample.Features) != a.shape.FeatureSize() {
		return Sample{}, fmt.Errorf("features have %d values, want %d", len(sample.Features), a.shape.FeatureSize())
	}
	if len(sample.Label) != a.shape.Classes {
		return Sample{}, fmt.Errorf("label has %d values, want %d", len(sample.Label), a.shape.Classes)
	}
	return sample, nil
}
