package models

import (
	"encoding/json"
	"time"
)

// LossLatency marks a probe that got no acceptable reply within its timeout.
const LossLatency = -1.0

// TimestampLayout is the on-disk and query-surface timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// Sample is a single probe outcome for one target.
type Sample struct {
	ID        int64     `json:"id,omitempty"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs float64   `json:"latency_ms"`
}

// NewSample builds a success sample.
func NewSample(target string, ts time.Time, latencyMs float64) Sample {
	return Sample{Target: target, Timestamp: ts.Truncate(time.Second), LatencyMs: latencyMs}
}

// NewLossSample builds a sample carrying the loss sentinel.
func NewLossSample(target string, ts time.Time) Sample {
	return NewSample(target, ts, LossLatency)
}

// IsLoss reports whether the sample is a timeout/rejection.
func (s Sample) IsLoss() bool {
	return s.LatencyMs == LossLatency
}

// Status is the string form used by the query surface.
func (s Sample) Status() string {
	if s.IsLoss() {
		return "timeout"
	}
	return "success"
}

// Valid checks the latency invariant: either the sentinel or strictly positive.
func (s Sample) Valid() bool {
	return s.IsLoss() || s.LatencyMs > 0
}

// TargetInfo identifies a monitored address.
type TargetInfo struct {
	Address   string    `json:"ip"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type sampleJSON struct {
	ID        int64   `json:"id,omitempty"`
	Target    string  `json:"target,omitempty"`
	Timestamp string  `json:"timestamp"`
	LatencyMs float64 `json:"latency_ms"`
	Status    string  `json:"status"`
}

// MarshalJSON renders the timestamp in TimestampLayout and adds the status field.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(sampleJSON{
		ID:        s.ID,
		Target:    s.Target,
		Timestamp: s.Timestamp.Format(TimestampLayout),
		LatencyMs: s.LatencyMs,
		Status:    s.Status(),
	})
}
