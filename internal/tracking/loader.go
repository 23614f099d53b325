package tracking

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/indofood-api/internal/frame"
	"github.com/Brownie44l1/indofood-api/internal/model"
)

// Loader opens trackers backed by an ONNX model on disk. Metadata and
// labels are read once by Prepare; every tracker gets its own session.
type Loader struct {
	ModelPath    string
	MetadataPath string
	LabelsPath   string
	Decode       frame.Mode

	meta   model.Metadata
	labels model.LabelSet
	ready  bool
}

// Prepare reads metadata and labels and checks that they agree.
func (l *Loader) Prepare() error {
	meta, err := model.LoadMetadata(l.MetadataPath)
	if err != nil {
		return err
	}
	labels, err := model.LoadLabels(l.LabelsPath)
	if err != nil {
		return err
	}
	if err := labels.CheckAligned(meta.OutputSize()); err != nil {
		return fmt.Errorf("labels %s: %w", l.LabelsPath, err)
	}

	l.meta = meta
	l.labels = labels
	l.ready = true

	log.Info().
		Str("component", "tracking").
		Str("model", l.ModelPath).
		Int("labels", len(labels)).
		Ints64("input_shape", meta.InputShape).
		Msg("Model metadata loaded")
	return nil
}

// Labels returns the label set read by Prepare.
func (l *Loader) Labels() model.LabelSet {
	return l.labels
}

// Open creates a tracker with a fresh classifier session.
func (l *Loader) Open() (*Tracker, error) {
	if !l.ready {
		if err := l.Prepare(); err != nil {
			return nil, err
		}
	}

	clf, err := model.Open(l.ModelPath, l.meta)
	if err != nil {
		return nil, err
	}

	t, err := New(clf, Config{
		Labels:     l.labels,
		Preprocess: l.meta.Preprocess(),
		Decode:     l.Decode,
	})
	if err != nil {
		clf.Close()
		return nil, err
	}
	return t, nil
}
