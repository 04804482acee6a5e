package model

import (
	"math"
	"testing"
)

func TestAssemblePredictAverages(t *testing.T) {
	a := newTestClassifier(t, "linear", 1)
	b := newTestClassifier(t, "mlp-3", 2)
	asm := NewAssemble(a, b)
	if asm.Len() != 2 {
		t.Fatalf("expected 2 models, got %d", asm.Len())
	}

	x := testBatch().Inputs
	pa, _ := a.Predict(x)
	pb, _ := b.Predict(x)
	got, err := asm.Predict(x)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 2; j++ {
			want := (pa.At(i, j) + pb.At(i, j)) / 2
			if math.Abs(got.At(i, j)-want) > 1e-12 {
				t.Fatalf("(%d,%d)=%f want %f", i, j, got.At(i, j), want)
			}
		}
	}
}

func TestAssemblePredictEmpty(t *testing.T) {
	if _, err := NewAssemble().Predict(testBatch().Inputs); err == nil {
		t.Fatal("expected error for empty assemble")
	}
}
