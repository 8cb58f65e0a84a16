package quality

import (
	"testing"
	"time"

	"voip-monitor/internal/models"
)

func observeAll(s *Scorer, latencies []float64) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, l := range latencies {
		s.Observe(models.NewSample("10.0.0.1", ts.Add(time.Duration(i)*time.Second), l))
	}
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Push(v)
	}
	if w.Len() != 3 || !w.Full() {
		t.Fatalf("Len = %d, Full = %v", w.Len(), w.Full())
	}
	got := w.Values()
	want := []float64{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Values() = %v, want %v", got, want)
		}
	}
}

func TestInsufficientUntilWindowFull(t *testing.T) {
	s := NewScorer("10.0.0.1", DefaultOptions())
	observeAll(s, fill(49, 20))

	snap := s.Snapshot()
	if snap.Ready() {
		t.Fatalf("snapshot ready with a partial window: %+v", snap)
	}
	if snap.Samples != 49 || snap.WindowSize != 50 {
		t.Errorf("Samples = %d, WindowSize = %d", snap.Samples, snap.WindowSize)
	}

	observeAll(s, []float64{20})
	if !s.Snapshot().Ready() {
		t.Fatal("snapshot not ready after window filled")
	}
}

func TestMinimumValidSamplesBoundary(t *testing.T) {
	tests := []struct {
		name  string
		valid int
		ready bool
	}{
		{name: "four valid", valid: 4, ready: false},
		{name: "five valid", valid: 5, ready: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer("10.0.0.1", DefaultOptions())
			window := append(fill(50-tt.valid, models.LossLatency), fill(tt.valid, 30)...)
			observeAll(s, window)

			snap := s.Snapshot()
			if snap.Ready() != tt.ready {
				t.Fatalf("Ready() = %v, want %v (%+v)", snap.Ready(), tt.ready, snap)
			}
			if tt.ready && (snap.MOS < 1.0 || snap.MOS > 5.0) {
				t.Errorf("MOS = %v out of [1, 5]", snap.MOS)
			}
		})
	}
}

func TestLossPercentExact(t *testing.T) {
	for _, losses := range []int{0, 1, 7, 25, 50} {
		window := append(fill(50-losses, 25), fill(losses, models.LossLatency)...)
		snap := Compute("10.0.0.1", window, 0)
		want := 100 * float64(losses) / 50
		if snap.LossPercent != want {
			t.Errorf("losses=%d: LossPercent = %v, want %v", losses, snap.LossPercent, want)
		}
	}
}

func TestSpikyWindowWithSingleLoss(t *testing.T) {
	pattern := []float64{20, 22, 24, 100}
	window := make([]float64, 0, 50)
	for len(window) < 49 {
		window = append(window, pattern[len(window)%len(pattern)])
	}
	window = append(window, models.LossLatency)

	s := NewScorer("10.0.0.1", DefaultOptions())
	observeAll(s, window)
	snap := s.Snapshot()

	if !snap.Ready() {
		t.Fatalf("snapshot not ready: %+v", snap)
	}
	if snap.LossPercent != 2.0 {
		t.Errorf("LossPercent = %v, want 2.0", snap.LossPercent)
	}
	if snap.Quality != Excellent && snap.Quality != Good {
		t.Errorf("Quality = %v (MOS %.3f), want Excellent or Good", snap.Quality, snap.MOS)
	}
}

func TestRecomputeCadence(t *testing.T) {
	s := NewScorer("10.0.0.1", Options{WindowSize: 5, RecomputeEvery: 3, MinValid: 1})
	ts := time.Now()

	var recomputed []int
	for i := 1; i <= 11; i++ {
		if s.Observe(models.NewSample("10.0.0.1", ts, float64(10*i))) {
			recomputed = append(recomputed, i)
		}
	}

	want := []int{5, 8, 11}
	if len(recomputed) != len(want) {
		t.Fatalf("recomputed at %v, want %v", recomputed, want)
	}
	for i := range want {
		if recomputed[i] != want[i] {
			t.Fatalf("recomputed at %v, want %v", recomputed, want)
		}
	}

	// window holds samples 7..11 at the last recompute
	if got := s.Snapshot().AvgLatency; got != 90 {
		t.Errorf("AvgLatency = %v, want 90", got)
	}
}

func TestComputeKnownValues(t *testing.T) {
	snap := Compute("10.0.0.1", fill(50, 20), 5)
	if !snap.Ready() {
		t.Fatal("expected ready snapshot")
	}
	if snap.Jitter != 0 || snap.AvgLatency != 20 || snap.EffectiveLatency != 30 {
		t.Errorf("avg=%v jitter=%v eff=%v", snap.AvgLatency, snap.Jitter, snap.EffectiveLatency)
	}
	if !approx(snap.RFactor, 92.45) || !approx(snap.MOS, 4.39431) {
		t.Errorf("R=%v MOS=%v", snap.RFactor, snap.MOS)
	}
	if snap.Quality != Excellent {
		t.Errorf("Quality = %v, want Excellent", snap.Quality)
	}
}
