package trainer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"epochforge/internal/metrics"
	"epochforge/internal/model"
)

var (
	// ErrTableMismatch reports a learning table count that differs from the model count.
	ErrTableMismatch = errors.New("trainer: learning tables do not match models")
	// ErrEmptyLoader reports a data source that yielded no batches.
	ErrEmptyLoader = errors.New("trainer: loader yielded no batches")
)

// Trainer drives every model of an assemble through its learning table.
type Trainer struct {
	assemble *model.Assemble
	reporter Reporter
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithReporter replaces the default klog reporter.
func WithReporter(r Reporter) Option {
	return func(t *Trainer) { t.reporter = r }
}

// New returns a trainer for the models of a.
func New(a *model.Assemble, opts ...Option) *Trainer {
	t := &Trainer{assemble: a, reporter: LogReporter{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fit trains model i with tables[i], in index order, then scores the whole
// assemble with every metric against eval. Metrics are skipped when eval is
// nil, including a nil pointer such as a (*dataset.Loader)(nil).
func (t *Trainer) Fit(ctx context.Context, tables []LearningTable, ms []metrics.Metric, eval BatchSource) error {
	models := t.assemble.Models()
	if len(tables) != len(models) {
		return fmt.Errorf("%w: %d tables for %d models", ErrTableMismatch, len(tables), len(models))
	}
	for i, m := range models {
		if err := t.reporter.ModelStarted(i, m.Config()); err != nil {
			return err
		}
		if err := t.TrainOneModel(ctx, i, m, tables[i], eval, ms); err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
	}
	totals, err := evaluate(ctx, t.assemble, eval, ms)
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	return t.reporter.Finished(totals)
}

// TrainOneModel runs the epoch loop of one model. Callbacks run after each
// epoch in registration order; the next epoch starts only once they return.
func (t *Trainer) TrainOneModel(ctx context.Context, index int, m model.Adapter, table LearningTable, eval BatchSource, ms []metrics.Metric) error {
	for epoch := 0; epoch < table.Epochs(); epoch++ {
		snap, err := trainEpoch(ctx, m, table.Loader())
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch+1, err)
		}
		values, err := evaluate(ctx, m, eval, ms)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch+1, err)
		}
		err = t.reporter.EpochFinished(EpochReport{
			Model:      index,
			Epoch:      epoch,
			Epochs:     table.Epochs(),
			Loss:       snap.MeanLoss,
			Metrics:    values,
			Throughput: snap,
		})
		if err != nil {
			return err
		}
		for _, cb := range table.Callbacks() {
			if err := cb.OnEpochEnd(epoch); err != nil {
				return fmt.Errorf("epoch %d: callback: %w", epoch+1, err)
			}
		}
	}
	return nil
}

// TrainEpoch runs TrainBatch on every batch of src once and returns the mean loss.
func TrainEpoch(ctx context.Context, m model.Adapter, src BatchSource) (float64, error) {
	snap, err := trainEpoch(ctx, m, src)
	if err != nil {
		return 0, err
	}
	return snap.MeanLoss, nil
}

func trainEpoch(ctx context.Context, m model.Adapter, src BatchSource) (metrics.Snapshot, error) {
	var window metrics.Window
	startData := time.Now()
	err := src.ForEach(ctx, func(b model.Batch) error {
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, err := m.TrainBatch(b)
		if err != nil {
			return err
		}
		window.Record(b.Size(), dataTime, time.Since(startCompute), loss)

		startData = time.Now()
		return nil
	})
	if err != nil {
		return metrics.Snapshot{}, err
	}
	if window.Steps() == 0 {
		return metrics.Snapshot{}, ErrEmptyLoader
	}
	return window.Snapshot(), nil
}

// CalcMetric averages metric over the batches of src.
func CalcMetric(ctx context.Context, p model.Predictor, src BatchSource, metric metrics.Metric) (float64, error) {
	sum := 0.0
	batches := 0
	err := src.ForEach(ctx, func(b model.Batch) error {
		pred, err := p.Predict(b.Inputs)
		if err != nil {
			return err
		}
		sum += metric.Compute(pred, b.Labels)
		batches++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if batches == 0 {
		return 0, ErrEmptyLoader
	}
	return sum / float64(batches), nil
}

func evaluate(ctx context.Context, p model.Predictor, eval BatchSource, ms []metrics.Metric) ([]MetricValue, error) {
	if absent(eval) {
		return nil, nil
	}
	values := make([]MetricValue, 0, len(ms))
	for _, metric := range ms {
		v, err := CalcMetric(ctx, p, eval, metric)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", metric.Name(), err)
		}
		values = append(values, MetricValue{Name: metric.Name(), Value: v})
	}
	return values, nil
}

// absent reports whether src is nil or a nil pointer wrapped in the interface.
func absent(src BatchSource) bool {
	if src == nil {
		return true
	}
	v := reflect.ValueOf(src)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
