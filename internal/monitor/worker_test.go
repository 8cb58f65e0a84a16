package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"voip-monitor/internal/models"
)

type pingerFunc func(ctx context.Context, address string, timeout time.Duration) (time.Duration, error)

func (f pingerFunc) Ping(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
	return f(ctx, address, timeout)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// runFor drives a prober on a fake clock until horizon has elapsed and
// returns the emitted samples.
func runFor(t *testing.T, clock *fakeClock, pinger models.Pinger, period, horizon time.Duration) []models.Sample {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	begin := clock.Now()

	var samples []models.Sample
	p := &prober{
		target:     "10.0.0.1",
		pinger:     pinger,
		period:     period,
		timeout:    5 * time.Second,
		minLatency: time.Millisecond,
		logger:     zap.NewNop(),
		now:        clock.Now,
		emit: func(s models.Sample) {
			samples = append(samples, s)
			if clock.Now().Sub(begin) >= horizon {
				cancel()
			}
		},
		sleep: func(ctx context.Context, d time.Duration) {
			clock.Advance(d)
			if clock.Now().Sub(begin) >= horizon {
				cancel()
			}
		},
	}
	p.run(ctx)
	return samples
}

func TestProberCadenceUnderSlowProbes(t *testing.T) {
	clock := newFakeClock()
	durations := []time.Duration{
		20 * time.Millisecond,
		950 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		999 * time.Millisecond,
	}
	i := 0
	pinger := pingerFunc(func(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
		d := durations[i%len(durations)]
		i++
		clock.Advance(d)
		return d, nil
	})

	horizon := 300 * time.Second
	samples := runFor(t, clock, pinger, time.Second, horizon)

	want := int(horizon / time.Second)
	if n := len(samples); n < want-1 || n > want+1 {
		t.Fatalf("got %d samples over %v, want %d ± 1", n, horizon, want)
	}
	for i := 1; i < len(samples); i++ {
		if gap := samples[i].Timestamp.Sub(samples[i-1].Timestamp); gap != time.Second {
			t.Fatalf("sample %d: gap %v, want 1s", i, gap)
		}
	}
}

func TestProberOverrunDoesNotCompound(t *testing.T) {
	clock := newFakeClock()
	durations := []time.Duration{
		100 * time.Millisecond,
		3 * time.Second,
		100 * time.Millisecond,
		100 * time.Millisecond,
	}
	i := 0
	pinger := pingerFunc(func(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
		d := durations[i%len(durations)]
		i++
		clock.Advance(d)
		return d, nil
	})

	samples := runFor(t, clock, pinger, time.Second, 12*time.Second)

	// each cycle of four ticks spans 1 + 3 + 1 + 1 seconds
	wantGaps := []time.Duration{time.Second, 3 * time.Second, time.Second, time.Second}
	for i := 1; i < len(samples); i++ {
		want := wantGaps[(i-1)%len(wantGaps)]
		if gap := samples[i].Timestamp.Sub(samples[i-1].Timestamp); gap != want {
			t.Fatalf("sample %d: gap %v, want %v", i, gap, want)
		}
	}
	if len(samples) != 8 {
		t.Errorf("got %d samples, want 8", len(samples))
	}
}

func TestProberLossNormalization(t *testing.T) {
	tests := []struct {
		name   string
		pinger pingerFunc
		want   float64
	}{
		{
			name: "success",
			pinger: func(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
				return 23456 * time.Microsecond, nil
			},
			want: 23.456,
		},
		{
			name: "error",
			pinger: func(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
				return 0, context.DeadlineExceeded
			},
			want: models.LossLatency,
		},
		{
			name: "panic",
			pinger: func(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
				panic("socket exploded")
			},
			want: models.LossLatency,
		},
		{
			name: "at threshold",
			pinger: func(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
				return time.Millisecond, nil
			},
			want: models.LossLatency,
		},
		{
			name: "just above threshold",
			pinger: func(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
				return 1500 * time.Microsecond, nil
			},
			want: 1.5,
		},
		{
			name: "zero",
			pinger: func(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
				return 0, nil
			},
			want: models.LossLatency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &prober{
				target:     "10.0.0.1",
				pinger:     tt.pinger,
				period:     time.Second,
				timeout:    time.Second,
				minLatency: time.Millisecond,
				logger:     zap.NewNop(),
			}
			s := p.tick(context.Background(), time.Now())
			if s.LatencyMs != tt.want {
				t.Errorf("tick() latency = %v, want %v", s.LatencyMs, tt.want)
			}
			if !s.Valid() {
				t.Errorf("tick() produced invalid sample %+v", s)
			}
		})
	}
}

func TestProberBoundsHungProbe(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	p := &prober{
		target:  "10.0.0.1",
		timeout: 50 * time.Millisecond,
		pinger: pingerFunc(func(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
			<-release
			return 10 * time.Millisecond, nil
		}),
		minLatency: time.Millisecond,
		logger:     zap.NewNop(),
	}

	start := time.Now()
	s := p.tick(context.Background(), start)
	if !s.IsLoss() {
		t.Errorf("hung probe produced %v, want loss", s.LatencyMs)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("tick took %v, want about the timeout", elapsed)
	}
}

func TestProberFinishesTickOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var emitted []models.Sample

	p := &prober{
		target:     "10.0.0.1",
		period:     time.Second,
		timeout:    time.Second,
		minLatency: time.Millisecond,
		logger:     zap.NewNop(),
		now:        time.Now,
		sleep:      sleepContext,
		pinger: pingerFunc(func(pctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
			cancel()
			if pctx.Err() != nil {
				return 0, pctx.Err()
			}
			return 5 * time.Millisecond, nil
		}),
		emit: func(s models.Sample) { emitted = append(emitted, s) },
	}

	p.run(ctx)
	if len(emitted) != 1 {
		t.Fatalf("emitted %d samples, want 1", len(emitted))
	}
	if emitted[0].LatencyMs != 5 {
		t.Errorf("cancel aborted the in-flight probe: latency %v", emitted[0].LatencyMs)
	}
}
