package model

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LabelSet maps score positions to class names. It is read once and never
// modified.
type LabelSet []string

// LoadLabels reads a label file, one label per line.
func LoadLabels(path string) (LabelSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	return ParseLabels(f)
}

// ParseLabels keeps blank lines so that positions stay aligned with the
// model output; a trailing newline does not add an entry.
func ParseLabels(r io.Reader) (LabelSet, error) {
	var labels LabelSet
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		labels = append(labels, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, errors.New("label file is empty")
	}
	return labels, nil
}

// CheckAligned verifies that there is exactly one label per score.
func (l LabelSet) CheckAligned(outputSize int) error {
	if len(l) != outputSize {
		return fmt.Errorf("%w: %d labels, %d outputs", ErrLabelCount, len(l), outputSize)
	}
	return nil
}
