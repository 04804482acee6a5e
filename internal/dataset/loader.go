package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"

	"epochforge/internal/model"
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool
	Seed      int64
}

// Loader groups dataset samples into NCHW batches.
type Loader struct {
	ds   Dataset
	opts LoaderOptions
	rng  *rand.Rand
}

// NewLoader validates opts and returns a loader over ds.
func NewLoader(ds Dataset, opts LoaderOptions) (*Loader, error) {
	if ds == nil {
		return nil, errors.New("loader: dataset is nil")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	return &Loader{ds: ds, opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}, nil
}

// NumBatches returns how many batches one pass yields.
func (l *Loader) NumBatches() int {
	n := l.ds.Len()
	if l.opts.DropLast {
		return n / l.opts.BatchSize
	}
	return (n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// ForEach makes one pass over the dataset, calling fn once per batch.
// Shuffled loaders draw a new order on every pass.
func (l *Loader) ForEach(ctx context.Context, fn func(model.Batch) error) error {
	n := l.ds.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	for start := 0; start < n; start += l.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + l.opts.BatchSize
		if end > n {
			if l.opts.DropLast {
				break
			}
			end = n
		}
		batch, err := l.collate(order[start:end])
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) collate(indices []int) (model.Batch, error) {
	var shape []int
	var data []float64
	labels := make([]int, 0, len(indices))
	for _, idx := range indices {
		s, err := l.ds.At(idx)
		if err != nil {
			return model.Batch{}, err
		}
		if s.Image == nil {
			return model.Batch{}, fmt.Errorf("loader: sample %d has no image", idx)
		}
		values, ok := s.Image.Data().([]float64)
		if !ok {
			return model.Batch{}, fmt.Errorf("loader: sample %d is %v, want float64", idx, s.Image.Dtype())
		}
		if shape == nil {
			shape = append([]int(nil), s.Image.Shape()...)
			if len(shape) != 3 {
				return model.Batch{}, fmt.Errorf("loader: sample %d has shape %v, want (channel, height, width)", idx, shape)
			}
			data = make([]float64, 0, len(indices)*len(values))
		} else if !sameShape(shape, s.Image.Shape()) {
			return model.Batch{}, fmt.Errorf("loader: sample %d has shape %v, want %v", idx, s.Image.Shape(), shape)
		}
		data = append(data, values...)
		labels = append(labels, s.Label)
	}
	inputs := tensor.New(tensor.WithShape(len(indices), shape[0], shape[1], shape[2]), tensor.WithBacking(data))
	return model.Batch{Inputs: inputs, Labels: labels}, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
