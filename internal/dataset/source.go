package dataset

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"sync/atomic"

	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"

	"lesion-forge/internal/augment"
	"lesion-forge/internal/loader"
)

// SourceOptions configures an ImageSource.
type SourceOptions struct {
	Width  int
	Height int
	// Pipeline is applied to every decoded image. A resize to Width x Height
	// is used when nil.
	Pipeline augment.Pipeline
	Seed     int64
	// MaxSamplesPerSec throttles decoding, e.g. on shared storage. Zero
	// means unlimited.
	MaxSamplesPerSec float64
}

// ImageSource decodes and augments dataset records into RGB CHW samples with
// one-hot labels. It is safe for concurrent use by loader workers.
type ImageSource struct {
	ds       *Dataset
	shape    loader.Shape
	pipeline augment.Pipeline
	seed     int64
	epoch    atomic.Int64
	limiter  *rate.Limiter
}

var _ loader.Source = (*ImageSource)(nil)

// NewImageSource returns a source over ds.
func NewImageSource(ds *Dataset, opts SourceOptions) (*ImageSource, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("source: image size must be > 0 (got %dx%d)", opts.Width, opts.Height)
	}
	pipeline := opts.Pipeline
	if pipeline == nil {
		pipeline = augment.Validation(opts.Width, opts.Height)
	}
	s := &ImageSource{
		ds:       ds,
		shape:    loader.Shape{Channels: 3, Height: opts.Height, Width: opts.Width, Classes: ds.NumClasses},
		pipeline: pipeline,
		seed:     opts.Seed,
	}
	if opts.MaxSamplesPerSec > 0 {
		burst := int(opts.MaxSamplesPerSec)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.MaxSamplesPerSec), burst)
	}
	return s, nil
}

// Shape is the sample shape this source produces.
func (s *ImageSource) Shape() loader.Shape { return s.shape }

// SetEpoch changes the augmentation draws for the next traversal.
func (s *ImageSource) SetEpoch(epoch int) { s.epoch.Store(int64(epoch)) }

// Load implements loader.Source. Augmentation randomness depends only on the
// seed, the epoch and the sample id.
func (s *ImageSource) Load(ctx context.Context, id int) (loader.Sample, error) {
	if id < 0 || id >= len(s.ds.Records) {
		return loader.Sample{}, fmt.Errorf("sample %d out of range [0, %d)", id, len(s.ds.Records))
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return loader.Sample{}, err
		}
	}
	rec := s.ds.Records[id]
	img, _, err := image.Decode(bytes.NewReader(rec.Image))
	if err != nil {
		return loader.Sample{}, fmt.Errorf("decode %s from %s: %w", rec.Key, rec.Shard, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return loader.Sample{}, fmt.Errorf("decode %s: empty image", rec.Key)
	}

	rng := rand.New(rand.NewSource(s.seed ^ s.epoch.Load()<<32 ^ int64(id)*0x9E3779B9))
	out := s.pipeline.Run(img, rng)
	if out.Rect.Dx() != s.shape.Width || out.Rect.Dy() != s.shape.Height {
		return loader.Sample{}, fmt.Errorf("augment %s: got %dx%d, want %dx%d",
			rec.Key, out.Rect.Dx(), out.Rect.Dy(), s.shape.Width, s.shape.Height)
	}

	sample := loader.Sample{
		Features: make([]float32, s.shape.FeatureSize()),
		Label:    make([]float32, s.shape.Classes),
	}
	augment.ToCHW(out, sample.Features)
	sample.Label[rec.Label] = 1
	return sample, nil
}
