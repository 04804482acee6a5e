package dataset

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Sample is one decoded (channel, height, width) image and its class label.
type Sample struct {
	Image *tensor.Dense
	Label int
}

// Dataset is random-access storage for samples.
type Dataset interface {
	Len() int
	At(i int) (Sample, error)
}

// Memory is a Dataset held entirely in memory.
type Memory struct {
	samples []Sample
}

// NewMemory wraps samples without copying them.
func NewMemory(samples []Sample) *Memory {
	return &Memory{samples: samples}
}

func (m *Memory) Len() int { return len(m.samples) }

func (m *Memory) At(i int) (Sample, error) {
	if i < 0 || i >= len(m.samples) {
		return Sample{}, fmt.Errorf("dataset: index %d out of range [0, %d)", i, len(m.samples))
	}
	return m.samples[i], nil
}
