package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	NormalizeL2(x)
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("got %v", x)
	}
	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector should be unchanged, got %v", zero)
	}
}

func TestSquaredL2(t *testing.T) {
	if d := SquaredL2([]float32{1, 2}, []float32{1, 2}); d != 0 {
		t.Errorf("identical vectors: got %f", d)
	}
	if d := SquaredL2([]float32{0, 0}, []float32{3, 4}); d != 25 {
		t.Errorf("got %f, want 25", d)
	}
	if d := SquaredL2([]float32{1}, []float32{1, 2}); !math.IsInf(float64(d), 1) {
		t.Errorf("length mismatch should be +Inf, got %f", d)
	}
}
