package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gray(width, height int, luma byte) []byte {
	buf := bytes.Repeat([]byte{luma}, width*height)
	return append(buf, bytes.Repeat([]byte{128}, ChromaSize(width, height))...)
}

func TestChromaSize(t *testing.T) {
	assert.Equal(t, 8, ChromaSize(4, 4))
	assert.Equal(t, 12, ChromaSize(5, 3))
	assert.Equal(t, 640*480/2, ChromaSize(640, 480))
}

func TestFromNV21(t *testing.T) {
	f, err := FromNV21(gray(4, 2, 10), 4, 2)
	require.NoError(t, err)
	assert.Len(t, f.Y, 8)
	assert.Len(t, f.VU, 4)
	assert.NoError(t, f.Validate())
	assert.Equal(t, gray(4, 2, 10)[8:], f.VU)
}

func TestFromNV21RejectsWrongSize(t *testing.T) {
	_, err := FromNV21(make([]byte, 10), 4, 4)
	assert.ErrorIs(t, err, ErrPlaneSize)

	_, err = FromNV21(nil, 0, 4)
	assert.ErrorIs(t, err, ErrPlaneSize)
}

func TestValidateChecksEachPlane(t *testing.T) {
	f := &Frame{Width: 4, Height: 4, Y: make([]byte, 16), VU: make([]byte, 7)}
	assert.ErrorIs(t, f.Validate(), ErrPlaneSize)

	f = &Frame{Width: 4, Height: 4, Y: make([]byte, 15), VU: make([]byte, 8)}
	assert.ErrorIs(t, f.Validate(), ErrPlaneSize)

	var nilFrame *Frame
	assert.ErrorIs(t, nilFrame.Validate(), ErrPlaneSize)
}

func TestOversizedDimensionsRejected(t *testing.T) {
	// 2^33 x 2^32 wraps width*height to zero on 64-bit ints
	_, err := FromNV21(nil, 1<<33, 1<<32)
	assert.ErrorIs(t, err, ErrPlaneSize)

	f := &Frame{Width: 1 << 33, Height: 1 << 32}
	assert.ErrorIs(t, f.Validate(), ErrPlaneSize)

	_, err = Decode(f, ModeDirect)
	assert.ErrorIs(t, err, ErrPlaneSize)

	_, err = FromNV21(make([]byte, MaxDimension+1+ChromaSize(MaxDimension+1, 1)), MaxDimension+1, 1)
	assert.ErrorIs(t, err, ErrPlaneSize)
}

func TestDecodeKeepsDimensions(t *testing.T) {
	for _, mode := range []Mode{ModeDirect, ModeJPEG} {
		for _, size := range [][2]int{{4, 4}, {5, 3}, {64, 48}} {
			f, err := FromNV21(gray(size[0], size[1], 90), size[0], size[1])
			require.NoError(t, err)

			img, err := Decode(f, mode)
			require.NoError(t, err, "mode %s", mode)
			assert.Equal(t, size[0], img.Bounds().Dx())
			assert.Equal(t, size[1], img.Bounds().Dy())
		}
	}
}

func TestDecodeDirectNeutralChromaIsGray(t *testing.T) {
	f, err := FromNV21(gray(4, 4, 128), 4, 4)
	require.NoError(t, err)

	img, err := Decode(f, ModeDirect)
	require.NoError(t, err)

	c := img.RGBAAt(2, 3)
	assert.Equal(t, uint8(128), c.R)
	assert.Equal(t, uint8(128), c.G)
	assert.Equal(t, uint8(128), c.B)
	assert.Equal(t, uint8(255), c.A)
}

func TestDecodeJPEGStaysClose(t *testing.T) {
	f, err := FromNV21(gray(16, 16, 128), 16, 16)
	require.NoError(t, err)

	img, err := Decode(f, ModeJPEG)
	require.NoError(t, err)

	c := img.RGBAAt(8, 8)
	assert.InDelta(t, 128, int(c.R), 3)
	assert.InDelta(t, 128, int(c.G), 3)
	assert.InDelta(t, 128, int(c.B), 3)
}

func TestDecodeReadsVBeforeU(t *testing.T) {
	// A strong V (Cr) sample pushes red up; U (Cb) stays neutral.
	buf := gray(2, 2, 128)
	buf[4] = 255 // V
	buf[5] = 128 // U
	f, err := FromNV21(buf, 2, 2)
	require.NoError(t, err)

	img, err := Decode(f, ModeDirect)
	require.NoError(t, err)

	c := img.RGBAAt(0, 0)
	assert.Greater(t, c.R, c.B)
}

func TestDecodeInvalidFrame(t *testing.T) {
	_, err := Decode(&Frame{Width: 2, Height: 2, Y: make([]byte, 4)}, ModeDirect)
	assert.ErrorIs(t, err, ErrPlaneSize)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, m)

	m, err = ParseMode("jpeg")
	require.NoError(t, err)
	assert.Equal(t, ModeJPEG, m)

	_, err = ParseMode("png")
	assert.Error(t, err)
}
