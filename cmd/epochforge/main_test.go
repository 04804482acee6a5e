package main

import (
	"math"
	"testing"

	"github.com/janpfeifer/must"
	"gorgonia.org/tensor"

	"epochforge/internal/config"
	"epochforge/internal/dataset"
	"epochforge/internal/model"
)

func tinyDataset() *dataset.Memory {
	samples := make([]dataset.Sample, 4)
	for i := range samples {
		samples[i] = dataset.Sample{
			Image: tensor.New(tensor.WithShape(1, 2, 2), tensor.WithBacking([]float64{0, 0.5, float64(i) / 4, 1})),
			Label: i % 2,
		}
	}
	return dataset.NewMemory(samples)
}

// epochRates runs the table callbacks and returns the lr each epoch trains at.
func epochRates(t *testing.T, mc config.ModelConfig) []float64 {
	t.Helper()
	cfg := &config.Config{OutDir: t.TempDir(), BatchSize: 2, Seed: 1, ImageSize: 2, Channels: 1}
	clf := must.M1(model.NewClassifier(model.ClassifierOptions{
		NumClasses: 2, Network: "linear", Channels: 1, Height: 2, Width: 2, LR: mc.LR,
	}))
	ds := tinyDataset()
	table, err := buildTable(cfg, 0, mc, clf, ds, ds)
	if err != nil {
		t.Fatalf("buildTable: %v", err)
	}
	var rates []float64
	for epoch := 0; epoch < table.Epochs(); epoch++ {
		rates = append(rates, clf.Optimizer().LearningRate())
		for _, cb := range table.Callbacks() {
			if err := cb.OnEpochEnd(epoch); err != nil {
				t.Fatalf("epoch %d: %v", epoch, err)
			}
		}
	}
	return rates
}

func TestBuildTableWarmUpStartsAtWarmUpRate(t *testing.T) {
	got := epochRates(t, config.ModelConfig{
		NumClasses: 2, Epochs: 3, LR: 0.0001,
		Schedule: "warmup", WarmupEpochs: 2, WarmupLR: 0.01,
	})
	want := []float64{0.01, 0.01, 0.0001}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("epoch rates %v want %v", got, want)
		}
	}
}

func TestBuildTablePolyDecays(t *testing.T) {
	got := epochRates(t, config.ModelConfig{
		NumClasses: 2, Epochs: 4, LR: 0.4, Schedule: "poly", PolyPower: 1,
	})
	want := []float64{0.4, 0.3, 0.2, 0.1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("epoch rates %v want %v", got, want)
		}
	}
}
