package quality

import (
	"sync"
	"time"

	"voip-monitor/internal/models"
)

// Status tells whether a snapshot carries a score.
type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
)

// Options tunes a scorer.
type Options struct {
	WindowSize     int
	RecomputeEvery int
	MinValid       int
}

// DefaultOptions returns a 50-sample window recomputed every 10 samples
// with at least 5 valid latencies.
func DefaultOptions() Options {
	return Options{WindowSize: 50, RecomputeEvery: 10, MinValid: 5}
}

// Snapshot is the derived quality of one window. Metric fields are only
// meaningful when Status is StatusOK.
type Snapshot struct {
	Target           string    `json:"ip"`
	Status           Status    `json:"status"`
	AvgLatency       float64   `json:"avg_latency"`
	Jitter           float64   `json:"jitter"`
	LossPercent      float64   `json:"loss_percent"`
	MOS              float64   `json:"mos"`
	RFactor          float64   `json:"r_factor"`
	EffectiveLatency float64   `json:"effective_latency"`
	Quality          Label     `json:"quality,omitempty"`
	Samples          int       `json:"samples"`
	ValidSamples     int       `json:"valid_samples"`
	WindowSize       int       `json:"window_size"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Ready reports whether the snapshot holds a MOS score.
func (s Snapshot) Ready() bool {
	return s.Status == StatusOK
}

// Compute scores a full window of latencies, oldest first, where
// models.LossLatency marks a loss.
func Compute(target string, window []float64, minValid int) Snapshot {
	snap := Snapshot{
		Target:     target,
		Status:     StatusInsufficientData,
		Samples:    len(window),
		WindowSize: len(window),
		ComputedAt: time.Now(),
	}
	if len(window) == 0 {
		return snap
	}

	valid := make([]float64, 0, len(window))
	losses := 0
	for _, v := range window {
		if v == models.LossLatency {
			losses++
			continue
		}
		valid = append(valid, v)
	}
	snap.ValidSamples = len(valid)
	snap.LossPercent = 100 * float64(losses) / float64(len(window))

	if len(valid) < minValid || len(valid) == 0 {
		return snap
	}

	var sum float64
	for _, v := range valid {
		sum += v
	}
	snap.AvgLatency = sum / float64(len(valid))
	snap.Jitter = Jitter(valid)
	snap.EffectiveLatency = EffectiveLatency(snap.AvgLatency, snap.Jitter)
	snap.RFactor = RFactor(snap.EffectiveLatency, snap.LossPercent)
	snap.MOS = MOS(snap.RFactor)
	snap.Quality = Classify(snap.MOS)
	snap.Status = StatusOK
	return snap
}

// Scorer keeps the rolling window of one target and its latest snapshot.
// Observe is called from the target's worker; Snapshot may be called from
// any goroutine.
type Scorer struct {
	target string
	opts   Options

	mu     sync.RWMutex
	window *Window
	filled bool
	since  int
	snap   Snapshot
}

// NewScorer creates a scorer for target.
func NewScorer(target string, opts Options) *Scorer {
	def := DefaultOptions()
	if opts.WindowSize < 1 {
		opts.WindowSize = def.WindowSize
	}
	if opts.RecomputeEvery < 1 {
		opts.RecomputeEvery = def.RecomputeEvery
	}
	if opts.MinValid < 1 {
		opts.MinValid = def.MinValid
	}
	return &Scorer{
		target: target,
		opts:   opts,
		window: NewWindow(opts.WindowSize),
	}
}

// Observe adds a sample to the window. It returns true when the snapshot
// was recomputed: once when the window first fills and then every
// RecomputeEvery samples.
func (s *Scorer) Observe(sample models.Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window.Push(sample.LatencyMs)
	if !s.window.Full() {
		return false
	}
	if s.filled {
		s.since++
		if s.since < s.opts.RecomputeEvery {
			return false
		}
	}
	s.filled = true
	s.since = 0
	s.snap = Compute(s.target, s.window.Values(), s.opts.MinValid)
	return true
}

// Snapshot returns the latest computed snapshot, or an insufficient-data
// snapshot while the window is still filling.
func (s *Scorer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.filled {
		return Snapshot{
			Target:     s.target,
			Status:     StatusInsufficientData,
			Samples:    s.window.Len(),
			WindowSize: s.window.Cap(),
		}
	}
	return s.snap
}
