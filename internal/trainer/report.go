package trainer

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"epochforge/internal/metrics"
	"epochforge/internal/model"
)

// MetricValue is a named metric result.
type MetricValue struct {
	Name  string
	Value float64
}

// EpochReport summarizes one finished epoch of one model.
type EpochReport struct {
	Model      int
	Epoch      int
	Epochs     int
	Loss       float64
	Metrics    []MetricValue
	Throughput metrics.Snapshot
}

// Reporter receives training progress.
type Reporter interface {
	ModelStarted(index int, cfg model.Config) error
	EpochFinished(r EpochReport) error
	Finished(totals []MetricValue) error
}

// LogReporter writes progress to klog.
type LogReporter struct{}

func (LogReporter) ModelStarted(index int, cfg model.Config) error {
	klog.Infof("start model=%d name=%s network=%s classes=%d optimizer=%s",
		index, cfg.ModelName, cfg.Network, cfg.NumClasses, cfg.Optimizer)
	return nil
}

func (LogReporter) EpochFinished(r EpochReport) error {
	klog.Infof("model=%d epoch=%d/%d loss=%.4f%s images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f",
		r.Model, r.Epoch+1, r.Epochs, r.Loss, formatMetrics(r.Metrics),
		r.Throughput.ImagesPerSec, r.Throughput.AvgDataMS, r.Throughput.AvgComputeMS)
	return nil
}

func (LogReporter) Finished(totals []MetricValue) error {
	klog.Infof("total%s", formatMetrics(totals))
	return nil
}

func formatMetrics(values []MetricValue) string {
	var b strings.Builder
	for _, v := range values {
		fmt.Fprintf(&b, " %s=%.4f", v.Name, v.Value)
	}
	return b.String()
}

// MultiReporter fans progress out to several reporters, stopping at the first error.
type MultiReporter []Reporter

func (m MultiReporter) ModelStarted(index int, cfg model.Config) error {
	for _, r := range m {
		if err := r.ModelStarted(index, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiReporter) EpochFinished(rep EpochReport) error {
	for _, r := range m {
		if err := r.EpochFinished(rep); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiReporter) Finished(totals []MetricValue) error {
	for _, r := range m {
		if err := r.Finished(totals); err != nil {
			return err
		}
	}
	return nil
}
