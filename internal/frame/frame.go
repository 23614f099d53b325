// Package frame turns raw camera captures into RGB images.
//
// Captures arrive as NV21: a full-resolution luma plane followed by one
// interleaved V/U plane subsampled 2x2. A Frame is consumed once by the
// tracking worker and then dropped.
package frame

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var ErrPlaneSize = errors.New("plane size does not match frame dimensions")

// MaxDimension bounds frame width and height so plane sizes cannot overflow.
const MaxDimension = 4096

// Frame is one NV21 camera capture.
type Frame struct {
	Width     int
	Height    int
	Y         []byte // Width*Height luma samples
	VU        []byte // interleaved V,U pairs, one per 2x2 block
	Seq       uint64
	Timestamp time.Time
}

// ChromaSize returns the expected interleaved chroma plane length for a
// width x height frame.
func ChromaSize(width, height int) int {
	return 2 * ((width + 1) / 2) * ((height + 1) / 2)
}

// FromNV21 splits a contiguous NV21 buffer into planes. The buffer is not
// copied.
func FromNV21(buf []byte, width, height int) (*Frame, error) {
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}
	ySize := width * height
	want := ySize + ChromaSize(width, height)
	if len(buf) != want {
		return nil, errors.Wrapf(ErrPlaneSize, "buffer has %d bytes, want %d for %dx%d", len(buf), want, width, height)
	}

	return &Frame{
		Width:     width,
		Height:    height,
		Y:         buf[:ySize:ySize],
		VU:        buf[ySize:],
		Timestamp: time.Now(),
	}, nil
}

// Validate checks that both planes match the declared dimensions.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.Wrap(ErrPlaneSize, "nil frame")
	}
	if err := checkDimensions(f.Width, f.Height); err != nil {
		return err
	}
	if len(f.Y) != f.Width*f.Height {
		return errors.Wrapf(ErrPlaneSize, "luma plane has %d bytes, want %d", len(f.Y), f.Width*f.Height)
	}
	if want := ChromaSize(f.Width, f.Height); len(f.VU) != want {
		return errors.Wrapf(ErrPlaneSize, "chroma plane has %d bytes, want %d", len(f.VU), want)
	}
	return nil
}

func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return errors.Wrapf(ErrPlaneSize, "invalid dimensions %dx%d", width, height)
	}
	return nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame#%d %dx%d", f.Seq, f.Width, f.Height)
}
