package models

import (
	"fmt"
	"time"
)

// Query surface limits.
const (
	MaxLimit       = 10000
	DefaultLimit   = 100
	MaxRecentMins  = 1440
	MaxHeatmapDays = 90
)

// SampleFilter narrows a range query. Nil pointers mean "unbounded".
type SampleFilter struct {
	From         *time.Time
	To           *time.Time
	MinLatency   *float64
	MaxLatency   *float64
	OnlyFailures bool
	Limit        int
	Offset       int
}

// Validate rejects malformed filters before any query runs.
func (f SampleFilter) Validate() error {
	if f.Limit < 1 || f.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidFilter, MaxLimit)
	}
	if f.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", ErrInvalidFilter)
	}
	if err := validateRange(f.From, f.To); err != nil {
		return err
	}
	if f.MinLatency != nil && f.MaxLatency != nil && *f.MinLatency > *f.MaxLatency {
		return fmt.Errorf("%w: min_latency greater than max_latency", ErrInvalidFilter)
	}
	return nil
}

// TimeRange bounds a stats query.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

// Validate rejects non-monotonic ranges.
func (r TimeRange) Validate() error {
	return validateRange(r.From, r.To)
}

func validateRange(from, to *time.Time) error {
	if from != nil && to != nil && from.After(*to) {
		return fmt.Errorf("%w: from is after to", ErrInvalidFilter)
	}
	return nil
}

// TargetSummary is one row of list_targets.
type TargetSummary struct {
	Address    string     `json:"ip"`
	Name       string     `json:"name,omitempty"`
	TotalPings int        `json:"total_pings"`
	FirstPing  *time.Time `json:"first_ping"`
	LastPing   *time.Time `json:"last_ping"`
	Monitored  bool       `json:"monitored"`
	Error      string     `json:"error,omitempty"`
}

// SamplePage is one page of a range query.
type SamplePage struct {
	Target       string   `json:"ip"`
	TotalResults int      `json:"total_results"`
	Returned     int      `json:"returned"`
	Offset       int      `json:"offset"`
	Limit        int      `json:"limit"`
	Samples      []Sample `json:"pings"`
}

// LatencyStats summarizes non-loss latencies.
type LatencyStats struct {
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	AvgMs    float64 `json:"avg_ms"`
	MedianMs float64 `json:"median_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
}

// Stats is the result of a stats query. Latency is nil when no non-loss
// sample matched; HasData is false when nothing matched at all.
type Stats struct {
	Target            string        `json:"ip"`
	HasData           bool          `json:"has_data"`
	From              *time.Time    `json:"from"`
	To                *time.Time    `json:"to"`
	TotalPings        int           `json:"total_pings"`
	Successful        int           `json:"successful"`
	Timeouts          int           `json:"timeouts"`
	PacketLossPercent float64       `json:"packet_loss_percent"`
	Latency           *LatencyStats `json:"latency"`
}

// RecentSamples is the result of get_recent.
type RecentSamples struct {
	Target  string    `json:"ip"`
	Minutes int       `json:"minutes"`
	From    time.Time `json:"from"`
	Total   int       `json:"total"`
	Samples []Sample  `json:"pings"`
}

// HourlyPattern aggregates one hour of the day across every day in a range.
type HourlyPattern struct {
	Hour         int      `json:"hour"`
	TotalPings   int      `json:"total_pings"`
	Timeouts     int      `json:"timeouts"`
	LossPercent  float64  `json:"loss_percent"`
	AvgLatencyMs *float64 `json:"avg_latency_ms"`
	MaxLatencyMs *float64 `json:"max_latency_ms"`
	DaysWithData int      `json:"days_with_data"`
}

// Heatmap is the hour-of-day loss and latency profile of a target.
type Heatmap struct {
	Target string          `json:"ip"`
	Days   int             `json:"days"`
	From   time.Time       `json:"from"`
	Hours  []HourlyPattern `json:"hours"`
}
