// Package preprocess turns a decoded bitmap into the classifier's input
// tensor: rotate, resize, then normalize.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Layout is the order of tensor dimensions.
type Layout string

const (
	LayoutNHWC Layout = "NHWC"
	LayoutNCHW Layout = "NCHW"
)

const channels = 3

var ErrInvalidOptions = errors.New("invalid preprocessing options")

// Options describes the classifier's input. Size must equal the model's
// declared input width and height. Center and Scale define the affine
// normalization (v - Center) / Scale applied to every 0..255 channel value;
// they must match how the model was trained.
type Options struct {
	Size          int
	Center        float32
	Scale         float32
	Layout        Layout
	RotateDegrees int
}

// DefaultOptions is 224x224 NHWC with zero-centered normalization to
// [-1, 1], rotating a landscape sensor frame into portrait.
func DefaultOptions() Options {
	return Options{
		Size:          224,
		Center:        127.5,
		Scale:         127.5,
		Layout:        LayoutNHWC,
		RotateDegrees: 90,
	}
}

// Validate reports unusable options.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("%w: size %d", ErrInvalidOptions, o.Size)
	}
	if o.Scale == 0 {
		return fmt.Errorf("%w: zero scale", ErrInvalidOptions)
	}
	if o.Layout != LayoutNHWC && o.Layout != LayoutNCHW {
		return fmt.Errorf("%w: layout %q", ErrInvalidOptions, o.Layout)
	}
	if o.RotateDegrees%90 != 0 {
		return fmt.Errorf("%w: rotation %d is not a multiple of 90", ErrInvalidOptions, o.RotateDegrees)
	}
	return nil
}

// Tensor is a normalized float32 buffer of shape 1 x Size x Size x 3 (or
// 1 x 3 x Size x Size for NCHW).
type Tensor struct {
	Width  int
	Height int
	Layout Layout
	Data   []float32
}

// Shape returns the tensor dimensions including the batch axis.
func (t *Tensor) Shape() []int64 {
	if t.Layout == LayoutNCHW {
		return []int64{1, channels, int64(t.Height), int64(t.Width)}
	}
	return []int64{1, int64(t.Height), int64(t.Width), channels}
}

// Process rotates, resizes and normalizes img. The same image and options
// always produce the same tensor.
func Process(img image.Image, opts Options) (*Tensor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}

	rotated := Rotate(img, opts.RotateDegrees)
	resized := Resize(rotated, opts.Size)
	return toTensor(resized, opts), nil
}

// Rotate turns img clockwise by degrees, which must be a multiple of 90.
func Rotate(img image.Image, degrees int) image.Image {
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	}
	return img
}

// Resize scales img to size x size with bilinear interpolation.
func Resize(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img
	}
	return resize.Resize(uint(size), uint(size), img, resize.Bilinear)
}

// Normalize maps a channel value through (v - center) / scale.
func Normalize(v, center, scale float32) float32 {
	return (v - center) / scale
}

func toTensor(img image.Image, opts Options) *Tensor {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	data := make([]float32, channels*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rgb := [channels]float32{
				Normalize(float32(r>>8), opts.Center, opts.Scale),
				Normalize(float32(g>>8), opts.Center, opts.Scale),
				Normalize(float32(b>>8), opts.Center, opts.Scale),
			}

			pixel := y*width + x
			for c, v := range rgb {
				if opts.Layout == LayoutNCHW {
					data[c*plane+pixel] = v
				} else {
					data[pixel*channels+c] = v
				}
			}
		}
	}

	return &Tensor{
		Width:  width,
		Height: height,
		Layout: opts.Layout,
		Data:   data,
	}
}
