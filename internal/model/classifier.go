package model

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// InitRuntime loads the ONNX Runtime shared library. Call once per process
// before opening any Classifier.
func InitRuntime(libraryPath string) error {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// ShutdownRuntime releases the ONNX Runtime environment.
func ShutdownRuntime() error {
	return ort.DestroyEnvironment()
}

// Classifier runs one ONNX model with fixed input and output tensors. It
// is not safe for concurrent Infer calls; the tracking worker owns it.
type Classifier struct {
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	closeOnce    sync.Once
}

// Open creates a session for the model at modelPath.
func Open(modelPath string, metadata Metadata) (*Classifier, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model not available: %w", err)
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		outputTensor.Destroy()
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Classifier{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// OutputSize is the length of every score vector.
func (c *Classifier) OutputSize() int {
	return c.Metadata.OutputSize()
}

// Infer runs the model on input and returns a copy of the scores.
func (c *Classifier) Infer(input []float32) ([]float32, error) {
	data := c.inputTensor.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrInputSize, len(input), len(data))
	}
	copy(data, input)

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := c.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

// Close destroys the session and its tensors. Later calls do nothing.
func (c *Classifier) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.session != nil {
			err = c.session.Destroy()
		}
		if c.inputTensor != nil {
			c.inputTensor.Destroy()
		}
		if c.outputTensor != nil {
			c.outputTensor.Destroy()
		}
	})
	return err
}
