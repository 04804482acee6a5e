package model

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

var (
	// ErrShape reports inputs or labels that do not match the model.
	ErrShape = errors.New("model: shape mismatch")
	// ErrCheckpoint reports a missing or unreadable checkpoint.
	ErrCheckpoint = errors.New("model: cannot read checkpoint")
	// ErrArchitectureMismatch reports a checkpoint written by a different architecture.
	ErrArchitectureMismatch = errors.New("model: checkpoint architecture mismatch")
)

// Batch represents a minibatch of NCHW inputs and class labels.
type Batch struct {
	Inputs *tensor.Dense
	Labels []int
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	if b.Inputs == nil {
		return 0
	}
	shape := b.Inputs.Shape()
	if len(shape) == 0 {
		return 0
	}
	return shape[0]
}

// Config is a descriptive record of an adapter, used for logging.
type Config struct {
	ModelName  string
	NumClasses int
	Optimizer  string
	Network    string
}

// Predictor produces per-class probabilities for a batch of inputs.
type Predictor interface {
	Predict(inputs *tensor.Dense) (*mat.Dense, error)
}

// Adapter is a trainable model with checkpoint support.
type Adapter interface {
	Predictor
	TrainBatch(batch Batch) (float64, error)
	SaveWeight(path string) error
	LoadWeight(path string) error
	Config() Config
	Optimizer() Optimizer
}
