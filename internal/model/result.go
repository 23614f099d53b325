package model

import (
	"fmt"
	"strings"
)

// DecisionThreshold is the score a label must exceed to be reported.
const DecisionThreshold = 0.5

// UnrecognizedText is shown when no label clears the threshold.
const UnrecognizedText = "Tidak dapat mendeteksi bahan."

// Result is the outcome of one classification.
type Result struct {
	Recognized bool    `json:"recognized"`
	Label      string  `json:"label,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
}

// Select picks the highest score. The first of equal maxima wins. It is
// Recognized only when that score is strictly above DecisionThreshold and
// its label is not blank.
func Select(scores []float32, labels LabelSet) (Result, error) {
	if err := labels.CheckAligned(len(scores)); err != nil {
		return Result{}, err
	}
	if len(scores) == 0 {
		return Result{}, nil
	}

	best := 0
	for i, score := range scores {
		if score > scores[best] {
			best = i
		}
	}

	label := strings.TrimSpace(labels[best])
	if scores[best] > DecisionThreshold && label != "" {
		return Result{Recognized: true, Label: label, Confidence: scores[best]}, nil
	}
	return Result{}, nil
}

// String renders the result for display, confidence as a percentage with
// two decimals.
func (r Result) String() string {
	if !r.Recognized {
		return UnrecognizedText
	}
	return fmt.Sprintf("%s: %.2f%%", r.Label, r.Confidence*100)
}
