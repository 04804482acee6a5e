package model

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"
)

func testBatch() Batch {
	data := []float64{
		0.1, 0.2, 0.3, 0.4,
		0.4, 0.3, 0.2, 0.1,
		0.9, 0.8, 0.1, 0.0,
		0.0, 0.1, 0.8, 0.9,
	}
	return Batch{
		Inputs: tensor.New(tensor.WithShape(4, 1, 2, 2), tensor.WithBacking(data)),
		Labels: []int{0, 1, 0, 1},
	}
}

func newTestClassifier(t *testing.T, network string, seed int64) *Classifier {
	t.Helper()
	c, err := NewClassifier(ClassifierOptions{
		NumClasses:  2,
		Network:     network,
		Channels:    1,
		Height:      2,
		Width:       2,
		LR:          0.1,
		Momentum:    0.9,
		WeightDecay: 1e-4,
		Seed:        seed,
	})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func TestClassifierTrainBatchReducesLoss(t *testing.T) {
	for _, network := range []string{"linear", "mlp-8"} {
		c := newTestClassifier(t, network, 1)
		batch := testBatch()
		first, err := c.TrainBatch(batch)
		if err != nil {
			t.Fatalf("%s: TrainBatch: %v", network, err)
		}
		var last float64
		for i := 0; i < 20; i++ {
			if last, err = c.TrainBatch(batch); err != nil {
				t.Fatalf("%s: TrainBatch: %v", network, err)
			}
		}
		if last >= first {
			t.Fatalf("%s: expected loss to decrease; first=%f last=%f", network, first, last)
		}
	}
}

func TestClassifierPredictRowsSumToOne(t *testing.T) {
	c := newTestClassifier(t, "mlp-4", 3)
	probs, err := c.Predict(testBatch().Inputs)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	rows, cols := probs.Dims()
	if rows != 4 || cols != 2 {
		t.Fatalf("expected 4x2 probabilities, got %dx%d", rows, cols)
	}
	for i := 0; i < rows; i++ {
		sum := probs.At(i, 0) + probs.At(i, 1)
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d sums to %f", i, sum)
		}
	}
}

func TestClassifierPredictDoesNotMutate(t *testing.T) {
	c := newTestClassifier(t, "linear", 3)
	x := testBatch().Inputs
	before, _ := c.Predict(x)
	after, _ := c.Predict(x)
	if before.At(0, 0) != after.At(0, 0) {
		t.Fatalf("predict changed model state")
	}
}

func TestClassifierSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Classifier_ep1.pth")
	batch := testBatch()

	src := newTestClassifier(t, "mlp-6", 7)
	if _, err := src.TrainBatch(batch); err != nil {
		t.Fatalf("TrainBatch: %v", err)
	}
	if err := src.SaveWeight(path); err != nil {
		t.Fatalf("SaveWeight: %v", err)
	}

	dst := newTestClassifier(t, "mlp-6", 99)
	if err := dst.LoadWeight(path); err != nil {
		t.Fatalf("LoadWeight: %v", err)
	}

	want, _ := src.Predict(batch.Inputs)
	got, _ := dst.Predict(batch.Inputs)
	rows, cols := want.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if math.Float64bits(want.At(i, j)) != math.Float64bits(got.At(i, j)) {
				t.Fatalf("prediction (%d,%d) differs: %v vs %v", i, j, want.At(i, j), got.At(i, j))
			}
		}
	}

	// Momentum buffers must come back too, so the next step matches.
	lossSrc, _ := src.TrainBatch(batch)
	lossDst, _ := dst.TrainBatch(batch)
	if lossSrc != lossDst {
		t.Fatalf("resumed training diverged: %v vs %v", lossSrc, lossDst)
	}
}

func TestLoadWeightKeepsOptimizerIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ck.pth")
	src := newTestClassifier(t, "linear", 4)
	src.Optimizer().SetLearningRate(0.05)
	if _, err := src.TrainBatch(testBatch()); err != nil {
		t.Fatalf("TrainBatch: %v", err)
	}
	if err := src.SaveWeight(path); err != nil {
		t.Fatalf("SaveWeight: %v", err)
	}

	dst := newTestClassifier(t, "linear", 8)
	held := dst.Optimizer()
	if err := dst.LoadWeight(path); err != nil {
		t.Fatalf("LoadWeight: %v", err)
	}
	if dst.Optimizer() != held {
		t.Fatal("LoadWeight replaced the optimizer")
	}
	if held.LearningRate() != 0.05 {
		t.Fatalf("held optimizer lr=%v want 0.05", held.LearningRate())
	}
	held.SetLearningRate(0.01)
	if dst.opt.lr != 0.01 {
		t.Fatalf("classifier lr=%v want 0.01", dst.opt.lr)
	}
	if len(dst.opt.buffers) != 2 {
		t.Fatalf("expected 2 momentum buffers, got %d", len(dst.opt.buffers))
	}
}

func TestLoadBuildsClassifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ck.pth")
	src := newTestClassifier(t, "linear", 5)
	if err := src.SaveWeight(path); err != nil {
		t.Fatalf("SaveWeight: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Config() != src.Config() {
		t.Fatalf("config mismatch: %+v vs %+v", c.Config(), src.Config())
	}
}

func TestLoadWeightErrors(t *testing.T) {
	dir := t.TempDir()
	c := newTestClassifier(t, "linear", 1)

	if err := c.LoadWeight(filepath.Join(dir, "missing.pth")); !errors.Is(err, ErrCheckpoint) {
		t.Fatalf("missing file: expected ErrCheckpoint, got %v", err)
	}

	garbage := filepath.Join(dir, "garbage.pth")
	if err := os.WriteFile(garbage, []byte("not a checkpoint"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.LoadWeight(garbage); !errors.Is(err, ErrCheckpoint) {
		t.Fatalf("malformed file: expected ErrCheckpoint, got %v", err)
	}

	other := filepath.Join(dir, "mlp.pth")
	if err := newTestClassifier(t, "mlp-3", 1).SaveWeight(other); err != nil {
		t.Fatalf("SaveWeight: %v", err)
	}
	if err := c.LoadWeight(other); !errors.Is(err, ErrArchitectureMismatch) {
		t.Fatalf("other network: expected ErrArchitectureMismatch, got %v", err)
	}
}

func TestFailedSaveKeepsPreviousCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Classifier_ep5.pth")
	c := newTestClassifier(t, "linear", 1)
	if err := c.SaveWeight(path); err != nil {
		t.Fatalf("SaveWeight: %v", err)
	}

	err := writeAtomic(path, func(w io.Writer) error {
		if _, err := w.Write([]byte("partial")); err != nil {
			return err
		}
		return errors.New("encoder failed")
	})
	if err == nil {
		t.Fatal("expected write error")
	}
	if err := c.LoadWeight(path); err != nil {
		t.Fatalf("previous checkpoint damaged: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the checkpoint to remain, got %d entries", len(entries))
	}

	// Overwriting through the temp file still replaces the content.
	if err := newTestClassifier(t, "linear", 2).SaveWeight(path); err != nil {
		t.Fatalf("SaveWeight overwrite: %v", err)
	}
}

func TestClassifierRejectsBadShapes(t *testing.T) {
	c := newTestClassifier(t, "linear", 1)
	flat := tensor.New(tensor.WithShape(4, 4), tensor.WithBacking(make([]float64, 16)))
	if _, err := c.Predict(flat); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for 2-D input, got %v", err)
	}
	batch := testBatch()
	batch.Labels = []int{0, 1}
	if _, err := c.TrainBatch(batch); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for short labels, got %v", err)
	}
	batch = testBatch()
	batch.Labels[2] = 5
	if _, err := c.TrainBatch(batch); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for label out of range, got %v", err)
	}
}

func TestClassifierAttention(t *testing.T) {
	c := newTestClassifier(t, "mlp-4", 2)
	preds, maps, err := c.Attention(testBatch().Inputs)
	if err != nil {
		t.Fatalf("Attention: %v", err)
	}
	if len(preds) != 4 || len(maps) != 4 {
		t.Fatalf("expected 4 results, got %d/%d", len(preds), len(maps))
	}
	r, cols := maps[0].Dims()
	if r != 2 || cols != 2 {
		t.Fatalf("expected 2x2 map, got %dx%d", r, cols)
	}
	for _, m := range maps {
		for _, v := range m.RawMatrix().Data {
			if v < 0 || v > 1 {
				t.Fatalf("attention value out of range: %f", v)
			}
		}
	}
}

func TestNewClassifierUnknownNetwork(t *testing.T) {
	_, err := NewClassifier(ClassifierOptions{NumClasses: 2, Network: "efficientnet-b0", Channels: 1, Height: 1, Width: 1})
	if err == nil {
		t.Fatal("expected error for unknown network")
	}
}
