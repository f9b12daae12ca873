package model

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"lesion-forge/internal/loader"
)

// Batch is a view of one minibatch: Size rows of flattened features and
// one-hot labels.
type Batch struct {
	Features []float32
	Labels   []float32
	Size     int
}

// FromLoader views a loader batch without copying. The view is invalid once
// the loader batch is released.
func FromLoader(b *loader.Batch) Batch {
	return Batch{Features: b.Features, Labels: b.Labels, Size: b.Size}
}

// FromTensors copies the float32 feature tensor (N, ...) and label tensor
// (N, K) yielded by a loader.Dataset into a batch.
func FromTensors(features, labels *tensors.Tensor) (Batch, error) {
	fdims, ldims := features.Shape().Dimensions, labels.Shape().Dimensions
	if len(fdims) < 2 || len(ldims) != 2 || fdims[0] != ldims[0] {
		return Batch{}, fmt.Errorf("model: features %v and labels %v disagree", fdims, ldims)
	}
	return Batch{
		Features: tensors.CopyFlatData[float32](features),
		Labels:   tensors.CopyFlatData[float32](labels),
		Size:     fdims[0],
	}, nil
}

// Scale multiplies every feature value by f in place.
func (b Batch) Scale(f float32) {
	for i := range b.Features {
		b.Features[i] *= f
	}
}

// Model defines the minimal training functionality required by the trainer.
type Model interface {
	TrainStep(batch Batch) float64
	Predict(batch Batch) []int
}
