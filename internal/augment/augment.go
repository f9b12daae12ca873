// Package augment holds the image augmentation recipes applied by the
// sample source before a sample reaches the batch loader.
package augment

import (
	"image"
	"math"
	"math/rand"

	"golang.org/x/image/draw"
)

// Op transforms an image. Ops may modify img in place and return it, or
// return a new image.
type Op interface {
	Apply(img *image.RGBA, rng *rand.Rand) *image.RGBA
}

// Pipeline runs ops in order.
type Pipeline []Op

// Run converts src to RGBA and applies every op.
func (p Pipeline) Run(src image.Image, rng *rand.Rand) *image.RGBA {
	img := toRGBA(src)
	for _, op := range p {
		img = op.Apply(img, rng)
	}
	return img
}

// Training is the recipe for the training split: resize, random mirror and
// flip, and gamma contrast jitter.
func Training(width, height int) Pipeline {
	return Pipeline{
		Resize{Width: width, Height: height},
		Mirror{P: 0.5},
		Flip{P: 0.5},
		GammaContrast{Min: 0.5, Max: 1.5},
	}
}

// Validation only resizes.
func Validation(width, height int) Pipeline {
	return Pipeline{Resize{Width: width, Height: height}}
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Resize scales to a fixed size with Catmull-Rom (cubic) interpolation.
type Resize struct {
	Width, Height int
}

func (r Resize) Apply(img *image.RGBA, _ *rand.Rand) *image.RGBA {
	if img.Rect.Dx() == r.Width && img.Rect.Dy() == r.Height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Mirror flips left-right with probability P.
type Mirror struct{ P float64 }

func (m Mirror) Apply(img *image.RGBA, rng *rand.Rand) *image.RGBA {
	if rng.Float64() >= m.P {
		return img
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			swapPixel(img, img.PixOffset(x, y), img.PixOffset(w-1-x, y))
		}
	}
	return img
}

// Flip flips top-bottom with probability P.
type Flip struct{ P float64 }

func (f Flip) Apply(img *image.RGBA, rng *rand.Rand) *image.RGBA {
	if rng.Float64() >= f.P {
		return img
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h/2; y++ {
		for x := 0; x < w; x++ {
			swapPixel(img, img.PixOffset(x, y), img.PixOffset(x, h-1-y))
		}
	}
	return img
}

func swapPixel(img *image.RGBA, a, b int) {
	for c := 0; c < 4; c++ {
		img.Pix[a+c], img.Pix[b+c] = img.Pix[b+c], img.Pix[a+c]
	}
}

// GammaContrast applies out = 255 * (in/255)^gamma with gamma drawn
// uniformly from [Min, Max].
type GammaContrast struct{ Min, Max float64 }

func (g GammaContrast) Apply(img *image.RGBA, rng *rand.Rand) *image.RGBA {
	gamma := g.Min + rng.Float64()*(g.Max-g.Min)
	var lut [256]uint8
	for i := range lut {
		lut[i] = uint8(math.Round(255 * math.Pow(float64(i)/255, gamma)))
	}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = lut[img.Pix[i]]
		img.Pix[i+1] = lut[img.Pix[i+1]]
		img.Pix[i+2] = lut[img.Pix[i+2]]
	}
	return img
}

// ToCHW writes the RGB planes of img into dst as 0..255 values, channel
// major. dst must hold 3*W*H values.
func ToCHW(img *image.RGBA, dst []float32) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
			i := y*w + x
			dst[i] = float32(img.Pix[off])
			dst[plane+i] = float32(img.Pix[off+1])
			dst[2*plane+i] = float32(img.Pix[off+2])
		}
	}
}
