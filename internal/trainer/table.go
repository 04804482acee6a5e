package trainer

import (
	"context"

	"epochforge/internal/model"
)

// BatchSource yields one pass of batches per ForEach call.
type BatchSource interface {
	ForEach(ctx context.Context, fn func(model.Batch) error) error
}

// Callback observes the end of an epoch. Epochs are zero based.
type Callback interface {
	OnEpochEnd(epoch int) error
}

// LearningTable binds a model's training data, epoch budget and callbacks.
// It is not modified once built.
type LearningTable struct {
	loader    BatchSource
	epochs    int
	callbacks []Callback
}

// NewLearningTable builds a table. The callback list is copied.
func NewLearningTable(loader BatchSource, epochs int, callbacks ...Callback) LearningTable {
	return LearningTable{
		loader:    loader,
		epochs:    epochs,
		callbacks: append([]Callback(nil), callbacks...),
	}
}

// Loader returns the training data source.
func (t LearningTable) Loader() BatchSource { return t.loader }

// Epochs returns the epoch budget.
func (t LearningTable) Epochs() int { return t.epochs }

// Callbacks returns the callbacks in registration order.
func (t LearningTable) Callbacks() []Callback {
	return append([]Callback(nil), t.callbacks...)
}
