package loader

import (
	"context"
	"errors"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// Dataset exposes a Generator as a gomlx train.Dataset, one traversal per
// epoch. Failed slots are logged and skipped.
type Dataset struct {
	name string
	ctx  context.Context
	gen  *Generator
}

var _ train.Dataset = (*Dataset)(nil)

// NewDataset wraps gen. ctx bounds every traversal started by the dataset.
func NewDataset(ctx context.Context, name string, gen *Generator) *Dataset {
	return &Dataset{name: name, ctx: ctx, gen: gen}
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset. The next Yield starts a new traversal over
// a fresh snapshot of the split.
func (ds *Dataset) Reset() {
	_ = ds.gen.Stop()
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if st := ds.gen.State(); st == Idle || st == Stopped {
		if err = ds.gen.Start(ds.ctx); err != nil {
			return nil, nil, nil, err
		}
	}
	for {
		b, err := ds.gen.PopBatch(ds.ctx)
		var slotErr *SlotError
		if errors.As(err, &slotErr) {
			ds.gen.log.Warn("skipping failed slot", "dataset", ds.name, "slot", slotErr.Slot, "err", slotErr.Err)
			continue
		}
		if err != nil {
			return nil, nil, nil, err
		}
		x, y := b.Tensors()
		b.Release()
		return ds, []*tensors.Tensor{x}, []*tensors.Tensor{y}, nil
	}
}
