package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"voip-monitor/internal/models"
	"voip-monitor/internal/quality"
)

// Collector holds the per-target Prometheus series.
type Collector struct {
	latency       *prometheus.GaugeVec
	mos           *prometheus.GaugeVec
	rFactor       *prometheus.GaugeVec
	jitter        *prometheus.GaugeVec
	lossPercent   *prometheus.GaugeVec
	samples       *prometheus.CounterVec
	losses        *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	flushFailures *prometheus.CounterVec
	buffered      *prometheus.GaugeVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		latency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voipmon_latency_ms",
				Help: "Latest probe latency in milliseconds",
			},
			[]string{"target"},
		),
		mos: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voipmon_mos",
				Help: "Mean opinion score of the rolling window",
			},
			[]string{"target"},
		),
		rFactor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voipmon_r_factor",
				Help: "E-model transmission rating of the rolling window",
			},
			[]string{"target"},
		),
		jitter: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voipmon_jitter_ms",
				Help: "Mean absolute latency difference in the rolling window (ms)",
			},
			[]string{"target"},
		),
		lossPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voipmon_loss_percent",
				Help: "Packet loss percentage of the rolling window",
			},
			[]string{"target"},
		),
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voipmon_samples_total",
				Help: "Total number of probe samples",
			},
			[]string{"target"},
		),
		losses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voipmon_losses_total",
				Help: "Total number of lost probes",
			},
			[]string{"target"},
		),
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voipmon_flushed_samples_total",
				Help: "Total number of samples committed to disk",
			},
			[]string{"target"},
		),
		flushFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voipmon_flush_failures_total",
				Help: "Total number of failed batch commits",
			},
			[]string{"target"},
		),
		buffered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voipmon_buffered_samples",
				Help: "Samples waiting in the write buffer",
			},
			[]string{"target"},
		),
	}

	reg.MustRegister(
		c.latency,
		c.mos,
		c.rFactor,
		c.jitter,
		c.lossPercent,
		c.samples,
		c.losses,
		c.flushes,
		c.flushFailures,
		c.buffered,
	)
	return c
}

// ObserveSample records one probe outcome.
func (c *Collector) ObserveSample(s models.Sample, buffered int) {
	c.samples.WithLabelValues(s.Target).Inc()
	if s.IsLoss() {
		c.losses.WithLabelValues(s.Target).Inc()
	} else {
		c.latency.WithLabelValues(s.Target).Set(s.LatencyMs)
	}
	c.buffered.WithLabelValues(s.Target).Set(float64(buffered))
}

// ObserveSnapshot publishes a scored window.
func (c *Collector) ObserveSnapshot(snap quality.Snapshot) {
	if !snap.Ready() {
		return
	}
	c.mos.WithLabelValues(snap.Target).Set(snap.MOS)
	c.rFactor.WithLabelValues(snap.Target).Set(snap.RFactor)
	c.jitter.WithLabelValues(snap.Target).Set(snap.Jitter)
	c.lossPercent.WithLabelValues(snap.Target).Set(snap.LossPercent)
}

// ObserveFlush has the signature of a store flush hook.
func (c *Collector) ObserveFlush(target string, flushed int, err error) {
	if err != nil {
		c.flushFailures.WithLabelValues(target).Inc()
		return
	}
	c.flushes.WithLabelValues(target).Add(float64(flushed))
	c.buffered.WithLabelValues(target).Set(0)
}

// Forget drops every series of a stopped target.
func (c *Collector) Forget(target string) {
	for _, v := range []*prometheus.MetricVec{
		c.latency.MetricVec,
		c.mos.MetricVec,
		c.rFactor.MetricVec,
		c.jitter.MetricVec,
		c.lossPercent.MetricVec,
		c.samples.MetricVec,
		c.losses.MetricVec,
		c.flushes.MetricVec,
		c.flushFailures.MetricVec,
		c.buffered.MetricVec,
	} {
		v.DeleteLabelValues(target)
	}
}
