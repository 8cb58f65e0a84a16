package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"voip-monitor/internal/models"
	"voip-monitor/internal/quality"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	now := time.Now()

	c.ObserveSample(models.NewSample("10.0.0.1", now, 23.5), 1)
	c.ObserveSample(models.NewLossSample("10.0.0.1", now), 2)

	if got := testutil.ToFloat64(c.samples.WithLabelValues("10.0.0.1")); got != 2 {
		t.Errorf("samples = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.losses.WithLabelValues("10.0.0.1")); got != 1 {
		t.Errorf("losses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.latency.WithLabelValues("10.0.0.1")); got != 23.5 {
		t.Errorf("latency = %v, want 23.5 (loss must not overwrite it)", got)
	}
	if got := testutil.ToFloat64(c.buffered.WithLabelValues("10.0.0.1")); got != 2 {
		t.Errorf("buffered = %v, want 2", got)
	}

	c.ObserveFlush("10.0.0.1", 10, nil)
	c.ObserveFlush("10.0.0.1", 0, errors.New("disk full"))
	if got := testutil.ToFloat64(c.flushes.WithLabelValues("10.0.0.1")); got != 10 {
		t.Errorf("flushed = %v, want 10", got)
	}
	if got := testutil.ToFloat64(c.flushFailures.WithLabelValues("10.0.0.1")); got != 1 {
		t.Errorf("flush failures = %v, want 1", got)
	}

	c.ObserveSnapshot(quality.Snapshot{Target: "10.0.0.1", Status: quality.StatusInsufficientData, MOS: 2})
	if got := testutil.ToFloat64(c.mos.WithLabelValues("10.0.0.1")); got != 0 {
		t.Errorf("mos = %v, insufficient snapshot must not be published", got)
	}
	c.ObserveSnapshot(quality.Snapshot{Target: "10.0.0.1", Status: quality.StatusOK, MOS: 4.2, RFactor: 85})
	if got := testutil.ToFloat64(c.mos.WithLabelValues("10.0.0.1")); got != 4.2 {
		t.Errorf("mos = %v, want 4.2", got)
	}

	c.Forget("10.0.0.1")
	if n := testutil.CollectAndCount(c.samples); n != 0 {
		t.Errorf("series after Forget = %d, want 0", n)
	}
}
