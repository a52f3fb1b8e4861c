package mathutil

import (
	"math"
	"testing"
)

func TestAlmostEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		eps  float64
		want bool
	}{
		{"equal", 0.0001, 0.0001, Epsilon, true},
		{"within epsilon", 0.0001, 0.0001 + 1e-13, Epsilon, true},
		{"outside epsilon", 0.0001, 0.0002, Epsilon, false},
		{"negative values", -0.5, -0.5, Epsilon, true},
		{"zero", 0, 0, Epsilon, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AlmostEqual(tt.a, tt.b, tt.eps); got != tt.want {
				t.Errorf("AlmostEqual(%v, %v, %v) = %v, want %v", tt.a, tt.b, tt.eps, got, tt.want)
			}
		})
	}
}

func TestWeightedAverage(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		weights []float64
		want    float64
	}{
		{"uniform weights", []float64{1, 2, 3}, []float64{1, 1, 1}, 2},
		{"weighted entries", []float64{50000, 51000, 52000}, []float64{0.1, 0.2, 0.1}, 51000},
		{"single value", []float64{42}, []float64{0.5}, 42},
		{"empty input", nil, nil, 0},
		{"length mismatch", []float64{1, 2}, []float64{1}, 0},
		{"zero weights", []float64{1, 2}, []float64{0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeightedAverage(tt.values, tt.weights)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("WeightedAverage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		v    float64
		prec int
		want float64
	}{
		{1.23456, 2, 1.23},
		{1.235, 2, 1.24},
		{-1.235, 2, -1.24},
		// 0.00015 в double чуть меньше середины: 0.00015*1e4 = 1.4999...
		{0.00015, 4, 0.0001},
		{5, 0, 5},
	}

	for _, tt := range tests {
		if got := Round(tt.v, tt.prec); got != tt.want {
			t.Errorf("Round(%v, %d) = %v, want %v", tt.v, tt.prec, got, tt.want)
		}
	}
}

func TestPctDiff(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want float64
	}{
		{"above", 50500, 50000, 1},
		{"below", 49500, 50000, 1},
		{"equal", 50000, 50000, 0},
		{"zero base", 50000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PctDiff(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PctDiff(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
