package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// Mode selects how NV21 is converted to RGB.
type Mode string

const (
	// ModeDirect converts YCbCr to RGB in memory.
	ModeDirect Mode = "direct"
	// ModeJPEG encodes the frame as JPEG and decodes it again, the path
	// camera stacks use when only a still-image codec is at hand.
	ModeJPEG Mode = "jpeg"
)

// JPEGQuality is the encoder quality used by ModeJPEG.
const JPEGQuality = 90

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDirect:
		return ModeDirect, nil
	case ModeJPEG:
		return ModeJPEG, nil
	}
	return "", fmt.Errorf("unknown frame decode mode %q", s)
}

// Decode converts f into an RGBA bitmap of the same width and height.
func Decode(f *Frame, mode Mode) (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	ycc := toYCbCr(f)

	var src image.Image = ycc
	if mode == ModeJPEG {
		decoded, err := jpegRoundTrip(ycc)
		if err != nil {
			return nil, err
		}
		src = decoded
	}

	bounds := image.Rect(0, 0, f.Width, f.Height)
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, src.Bounds().Min, draw.Src)
	return dst, nil
}

// toYCbCr de-interleaves the V/U plane into separate Cb and Cr planes.
// The luma plane is shared, not copied.
func toYCbCr(f *Frame) *image.YCbCr {
	cw := (f.Width + 1) / 2
	ch := (f.Height + 1) / 2

	ycc := &image.YCbCr{
		Y:              f.Y,
		Cb:             make([]byte, cw*ch),
		Cr:             make([]byte, cw*ch),
		YStride:        f.Width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}

	for i := 0; i < cw*ch; i++ {
		ycc.Cr[i] = f.VU[2*i]
		ycc.Cb[i] = f.VU[2*i+1]
	}
	return ycc
}

func jpegRoundTrip(img image.Image) (image.Image, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, errors.Wrap(err, "failed to encode frame as jpeg")
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode jpeg frame")
	}
	return decoded, nil
}
