package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Assemble is an ordered group of adapters that are trained one after another
// and evaluated together.
type Assemble struct {
	models []Adapter
}

// NewAssemble groups models in the order given.
func NewAssemble(models ...Adapter) *Assemble {
	return &Assemble{models: append([]Adapter(nil), models...)}
}

// Models returns the members in training order.
func (a *Assemble) Models() []Adapter {
	return append([]Adapter(nil), a.models...)
}

// Len returns the number of members.
func (a *Assemble) Len() int {
	return len(a.models)
}

// Predict averages the class probabilities of every member.
func (a *Assemble) Predict(inputs *tensor.Dense) (*mat.Dense, error) {
	if len(a.models) == 0 {
		return nil, errors.New("assemble: no models")
	}
	var sum *mat.Dense
	for i, m := range a.models {
		probs, err := m.Predict(inputs)
		if err != nil {
			return nil, fmt.Errorf("assemble: model %d: %w", i, err)
		}
		if sum == nil {
			sum = mat.DenseCopyOf(probs)
			continue
		}
		if err := sameDims(sum, probs); err != nil {
			return nil, fmt.Errorf("assemble: model %d: %w", i, err)
		}
		sum.Add(sum, probs)
	}
	sum.Scale(1/float64(len(a.models)), sum)
	return sum, nil
}
