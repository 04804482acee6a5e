package metrics

import "time"

// Window accumulates loss and timing stats across the steps of one epoch.
type Window struct {
	samples  int
	data     time.Duration
	compute  time.Duration
	steps    int
	lossSum  float64
	lastLoss float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lossSum += loss
	w.lastLoss = loss
}

// Steps reports how many measurements were recorded since the last snapshot.
func (w *Window) Steps() int {
	return w.steps
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps, Samples: w.samples}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.MeanLoss = w.lossSum / float64(w.steps)
	}
	snap.LastLoss = w.lastLoss

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps        int
	Samples      int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	MeanLoss     float64
	LastLoss     float64
}
