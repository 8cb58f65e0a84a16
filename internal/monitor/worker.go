package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"voip-monitor/internal/models"
)

const progressEvery = 60

// prober runs the cadence-locked probing loop of one target.
type prober struct {
	target     string
	pinger     models.Pinger
	period     time.Duration
	timeout    time.Duration
	minLatency time.Duration
	emit       func(models.Sample)
	logger     *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	count  int
	losses int
}

// run emits one sample per period until ctx is cancelled. A cancellation
// observed mid-probe takes effect after that tick's sample is emitted.
func (p *prober) run(ctx context.Context) {
	p.logger.Info("probe_started",
		zap.String("target", p.target),
		zap.Duration("period", p.period),
		zap.Duration("timeout", p.timeout),
	)
	defer p.logger.Info("probe_stopped", zap.String("target", p.target), zap.Int("samples", p.count))

	for ctx.Err() == nil {
		start := p.now()
		p.emit(p.tick(ctx, start))

		// a probe longer than the period starts the next tick at once
		if wait := p.period - p.now().Sub(start); wait > 0 {
			p.sleep(ctx, wait)
		}
	}
}

// tick performs one probe and normalizes its outcome into a sample.
func (p *prober) tick(ctx context.Context, start time.Time) models.Sample {
	latency, err := p.probe(ctx)

	var sample models.Sample
	switch {
	case err != nil:
		p.logger.Debug("probe_lost", zap.String("target", p.target), zap.Error(err))
		sample = models.NewLossSample(p.target, start)
	case latency <= p.minLatency:
		p.logger.Debug("probe_rejected", zap.String("target", p.target), zap.Duration("latency", latency))
		sample = models.NewLossSample(p.target, start)
	default:
		sample = models.NewSample(p.target, start, durationMs(latency))
	}

	p.count++
	if sample.IsLoss() {
		p.losses++
	}
	if p.count%progressEvery == 0 {
		p.logger.Info("probe_progress",
			zap.String("target", p.target),
			zap.Int("samples", p.count),
			zap.Int("losses", p.losses),
		)
	}
	return sample
}

// probe calls the pinger with a bounded wait. Cancelling ctx does not abort
// an in-flight probe; a pinger that overruns its timeout or panics counts
// as a loss.
func (p *prober) probe(ctx context.Context) (time.Duration, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	type result struct {
		latency time.Duration
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("probe panic: %v", r)}
			}
		}()
		latency, err := p.pinger.Ping(pctx, p.target, p.timeout)
		done <- result{latency: latency, err: err}
	}()

	select {
	case r := <-done:
		return r.latency, r.err
	case <-pctx.Done():
		return 0, fmt.Errorf("probe timed out after %v", p.timeout)
	}
}

func durationMs(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*1000) / 1000
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
