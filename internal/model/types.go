package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Brownie44l1/indofood-api/internal/preprocess"
)

var (
	ErrInputSize  = errors.New("input size does not match model input shape")
	ErrLabelCount = errors.New("label count does not match model output size")
)

// Metadata describes the model artifact: tensor names and shapes, the
// square input size, layout and the normalization it was trained with.
type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	ImageSize   int     `json:"image_size"`
	Layout      string  `json:"layout"`
	NormCenter  float32 `json:"norm_center"`
	NormScale   float32 `json:"norm_scale"`
	// RotateDegrees compensates for the camera sensor orientation.
	RotateDegrees *int `json:"rotate_degrees,omitempty"`
}

// LoadMetadata reads model metadata JSON and fills defaults: tensor names
// "input"/"output", 224 pixels, NHWC and zero-centered normalization.
func LoadMetadata(path string) (Metadata, error) {
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	metadata.applyDefaults()
	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

func (m *Metadata) applyDefaults() {
	defaults := preprocess.DefaultOptions()

	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.ImageSize == 0 {
		m.ImageSize = defaults.Size
	}
	if m.Layout == "" {
		m.Layout = string(defaults.Layout)
	}
	if m.NormScale == 0 {
		m.NormCenter = defaults.Center
		m.NormScale = defaults.Scale
	}
	if len(m.InputShape) == 0 {
		m.InputShape = (&preprocess.Tensor{
			Width:  m.ImageSize,
			Height: m.ImageSize,
			Layout: preprocess.Layout(m.Layout),
		}).Shape()
	}
}

// Validate checks that the input shape agrees with image size and layout.
func (m Metadata) Validate() error {
	want := (&preprocess.Tensor{
		Width:  m.ImageSize,
		Height: m.ImageSize,
		Layout: preprocess.Layout(m.Layout),
	}).Shape()

	if len(m.InputShape) != len(want) {
		return fmt.Errorf("input shape %v does not match %s %dx%d", m.InputShape, m.Layout, m.ImageSize, m.ImageSize)
	}
	for i := range want {
		if m.InputShape[i] != want[i] {
			return fmt.Errorf("input shape %v does not match %s %dx%d", m.InputShape, m.Layout, m.ImageSize, m.ImageSize)
		}
	}
	if len(m.OutputShape) == 0 {
		return errors.New("metadata is missing output_shape")
	}
	return m.Preprocess().Validate()
}

// Preprocess returns the preprocessing options the model expects.
func (m Metadata) Preprocess() preprocess.Options {
	opts := preprocess.DefaultOptions()
	opts.Size = m.ImageSize
	opts.Layout = preprocess.Layout(m.Layout)
	opts.Center = m.NormCenter
	opts.Scale = m.NormScale
	if m.RotateDegrees != nil {
		opts.RotateDegrees = *m.RotateDegrees
	}
	return opts
}

// OutputSize is the number of scores the model produces.
func (m Metadata) OutputSize() int {
	return product(m.OutputShape)
}

func product(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	size := 1
	for _, dim := range shape {
		size *= int(dim)
	}
	return size
}
