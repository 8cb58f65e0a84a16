package quality

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func TestRFactor(t *testing.T) {
	tests := []struct {
		name      string
		effective float64
		loss      float64
		expected  float64
	}{
		{name: "low delay", effective: 30, loss: 0, expected: 92.45},
		{name: "knee uses high slope", effective: 160, loss: 0, expected: 89.2},
		{name: "high delay", effective: 200, loss: 0, expected: 85.2},
		{name: "loss penalty", effective: 30, loss: 2, expected: 87.45},
		{name: "clamped at zero", effective: 2000, loss: 50, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RFactor(tt.effective, tt.loss); !approx(got, tt.expected) {
				t.Errorf("RFactor(%v, %v) = %v, want %v", tt.effective, tt.loss, got, tt.expected)
			}
		})
	}
}

func TestMOS(t *testing.T) {
	tests := []struct {
		r        float64
		expected float64
	}{
		{r: 0, expected: 1},
		{r: 100, expected: 4.5},
		{r: 92.45, expected: 4.39431},
		{r: 60, expected: 3.1},
	}

	for _, tt := range tests {
		if got := MOS(tt.r); !approx(got, tt.expected) {
			t.Errorf("MOS(%v) = %v, want %v", tt.r, got, tt.expected)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		mos      float64
		expected Label
	}{
		{4.5, Excellent},
		{4.3, Excellent},
		{4.29, Good},
		{4.0, Good},
		{3.6, Acceptable},
		{3.1, Poor},
		{3.09, Bad},
		{1, Bad},
	}

	for _, tt := range tests {
		if got := Classify(tt.mos); got != tt.expected {
			t.Errorf("Classify(%v) = %v, want %v", tt.mos, got, tt.expected)
		}
	}
}

func TestJitter(t *testing.T) {
	tests := []struct {
		name      string
		latencies []float64
		expected  float64
	}{
		{name: "empty", latencies: nil, expected: 0},
		{name: "single", latencies: []float64{10}, expected: 0},
		{name: "steady", latencies: []float64{10, 10, 10}, expected: 0},
		{name: "alternating", latencies: []float64{10, 20, 10, 20}, expected: 10},
		{name: "spike", latencies: []float64{20, 22, 24, 100}, expected: 80.0 / 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jitter(tt.latencies); !approx(got, tt.expected) {
				t.Errorf("Jitter(%v) = %v, want %v", tt.latencies, got, tt.expected)
			}
		})
	}
}
