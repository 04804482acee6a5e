package metrics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Metric scores a batch of predicted probabilities against ground truth.
// Name is only used for display.
type Metric interface {
	Name() string
	Compute(pred *mat.Dense, labels []int) float64
}

type funcMetric struct {
	name string
	fn   func(pred *mat.Dense, labels []int) float64
}

func (m funcMetric) Name() string { return m.name }

func (m funcMetric) Compute(pred *mat.Dense, labels []int) float64 {
	return m.fn(pred, labels)
}

// Func wraps a plain function as a Metric.
func Func(name string, fn func(pred *mat.Dense, labels []int) float64) Metric {
	return funcMetric{name: name, fn: fn}
}

// Accuracy is the share of rows whose arg-max matches the label.
func Accuracy() Metric {
	return Func("accuracy", accuracy)
}

func accuracy(pred *mat.Dense, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	hits := 0
	for i, label := range labels {
		if floats.MaxIdx(pred.RawRowView(i)) == label {
			hits++
		}
	}
	return float64(hits) / float64(len(labels))
}

// MeanConfidence is the average probability assigned to the true label.
func MeanConfidence() Metric {
	return Func("mean_confidence", func(pred *mat.Dense, labels []int) float64 {
		if len(labels) == 0 {
			return 0
		}
		sum := 0.0
		for i, label := range labels {
			sum += pred.At(i, label)
		}
		return sum / float64(len(labels))
	})
}
