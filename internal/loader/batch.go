package loader

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Shape describes one sample: a Channels x Height x Width feature volume and
// a label vector of Classes entries.
type Shape struct {
	Channels int
	Height   int
	Width    int
	Classes  int
}

// FeatureSize is the number of float32 values in one sample's features.
func (s Shape) FeatureSize() int { return s.Channels * s.Height * s.Width }

func (s Shape) valid() bool {
	return s.Channels > 0 && s.Height > 0 && s.Width > 0 && s.Classes > 0
}

// Batch is one assembled slot. Features is laid out N x C x H x W and Labels
// N x K, row r holding the sample Indices[r].
//
// A popped batch belongs to the caller, who must call Release once done with
// it so the buffers can be reused by later slots.
type Batch struct {
	Slot     int
	Indices  []int
	Size     int
	Shape    Shape
	Features []float32
	Labels   []float32

	pool     *bufferPool
	released atomic.Bool
}

// Row returns the feature and label views of row r.
func (b *Batch) Row(r int) (features, label []float32) {
	fs, ls := b.Shape.FeatureSize(), b.Shape.Classes
	return b.Features[r*fs : (r+1)*fs], b.Labels[r*ls : (r+1)*ls]
}

// Scale multiplies every feature value by f in place.
func (b *Batch) Scale(f float32) {
	for i := range b.Features {
		b.Features[i] *= f
	}
}

// Tensors copies the batch into gomlx tensors shaped (N, C, H, W) and (N, K).
// The batch may be released right after.
func (b *Batch) Tensors() (features, labels *tensors.Tensor) {
	features = tensors.FromFlatDataAndDimensions(b.Features, b.Size, b.Shape.Channels, b.Shape.Height, b.Shape.Width)
	labels = tensors.FromFlatDataAndDimensions(b.Labels, b.Size, b.Shape.Classes)
	return features, labels
}

// Release hands the buffers back for reuse. Calling it more than once is a
// no-op; using the batch afterwards is not allowed.
func (b *Batch) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	if b.pool != nil {
		b.pool.put(b.Features, b.Labels)
	}
	b.Features, b.Labels, b.Indices = nil, nil, nil
}

// bufferPool recycles batch buffers of one fixed batch shape.
type bufferPool struct {
	featureLen int
	labelLen   int
	features   sync.Pool
	labels     sync.Pool
}

func newBufferPool(batchSize int, shape Shape) *bufferPool {
	p := &bufferPool{
		featureLen: batchSize * shape.FeatureSize(),
		labelLen:   batchSize * shape.Classes,
	}
	p.features.New = func() any {
		buf := make([]float32, p.featureLen)
		return &buf
	}
	p.labels.New = func() any {
		buf := make([]float32, p.labelLen)
		return &buf
	}
	return p
}

func (p *bufferPool) get() (features, labels []float32) {
	return *p.features.Get().(*[]float32), *p.labels.Get().(*[]float32)
}

func (p *bufferPool) put(features, labels []float32) {
	if len(features) == p.featureLen {
		p.features.Put(&features)
	}
	if len(labels) == p.labelLen {
		p.labels.Put(&labels)
	}
}
