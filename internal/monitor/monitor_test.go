package monitor

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"voip-monitor/internal/database"
	"voip-monitor/internal/metrics"
	"voip-monitor/internal/models"
	"voip-monitor/internal/quality"
)

type countingPinger struct {
	calls atomic.Int64
}

func (p *countingPinger) Ping(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
	n := p.calls.Add(1)
	if n%4 == 0 {
		return 0, errors.New("request timed out")
	}
	return 20 * time.Millisecond, nil
}

func newTestMonitor(t *testing.T, dir string, pinger models.Pinger) (*Monitor, *database.Store) {
	t.Helper()
	store, err := database.NewStore(dir, database.Options{BatchSize: 10, Durability: database.Relaxed}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	opts := Options{
		Interval:      5 * time.Millisecond,
		Timeout:       time.Second,
		MinLatency:    time.Millisecond,
		Quality:       quality.Options{WindowSize: 5, RecomputeEvery: 2, MinValid: 2},
		FlushInterval: 20 * time.Millisecond,
	}
	m := New(opts, store, pinger, metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop())
	t.Cleanup(func() {
		m.Close()
		store.CloseAll()
	})
	return m, store
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartStopPersistsEverySample(t *testing.T) {
	dir := t.TempDir()
	pinger := &countingPinger{}
	m, _ := newTestMonitor(t, dir, pinger)

	if err := m.Start(models.TargetInfo{Address: "192.0.2.10", Name: "pbx"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return pinger.calls.Load() >= 25 })

	if err := m.Stop("192.0.2.10"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop("192.0.2.10"); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if m.IsMonitored("192.0.2.10") {
		t.Error("target still monitored after Stop")
	}

	reader := database.NewReader(dir)
	defer reader.Close()
	summary, err := reader.Summary(context.Background(), "192.0.2.10")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if got, want := summary.TotalPings, int(pinger.calls.Load()); got != want {
		t.Errorf("persisted %d samples, pinger was called %d times", got, want)
	}
	if summary.Name != "pbx" {
		t.Errorf("Name = %q, want pbx", summary.Name)
	}
}

func TestStartRejections(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestMonitor(t, dir, &countingPinger{})

	if err := m.Start(models.TargetInfo{Address: "not a host"}); !errors.Is(err, models.ErrInvalidTarget) {
		t.Errorf("invalid address: err = %v, want ErrInvalidTarget", err)
	}

	if err := m.Start(models.TargetInfo{Address: "192.0.2.20"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(models.TargetInfo{Address: "192.0.2.20"}); !errors.Is(err, models.ErrAlreadyMonitored) {
		t.Errorf("duplicate start: err = %v, want ErrAlreadyMonitored", err)
	}

	if runtime.GOOS == "windows" {
		return
	}
	other, _ := newTestMonitor(t, dir, &countingPinger{})
	if err := other.Start(models.TargetInfo{Address: "192.0.2.20"}); !errors.Is(err, models.ErrPartitionBusy) {
		t.Errorf("second writer: err = %v, want ErrPartitionBusy", err)
	}
}

func TestSubscribeRacingStopIsClosed(t *testing.T) {
	m, _ := newTestMonitor(t, t.TempDir(), &countingPinger{})
	const addr = "192.0.2.31"

	for round := 0; round < 25; round++ {
		if err := m.Start(models.TargetInfo{Address: addr}); err != nil {
			t.Fatalf("round %d Start: %v", round, err)
		}

		subs := make(chan *Subscription, 1024)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				sub, err := m.Subscribe(addr, 1)
				if err != nil {
					return
				}
				subs <- sub
				if len(subs) == cap(subs) {
					return
				}
			}
		}()

		if err := m.Stop(addr); err != nil {
			t.Fatalf("round %d Stop: %v", round, err)
		}
		<-done
		close(subs)

		for sub := range subs {
			deadline := time.After(5 * time.Second)
		drain:
			for {
				select {
				case _, ok := <-sub.C:
					if !ok {
						break drain
					}
				case <-deadline:
					t.Fatalf("round %d: subscription left open after Stop", round)
				}
			}
		}
	}
}

func TestSnapshotAndSubscribe(t *testing.T) {
	m, _ := newTestMonitor(t, t.TempDir(), &countingPinger{})

	if _, err := m.Snapshot("192.0.2.30"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Snapshot(unknown) err = %v, want ErrNotFound", err)
	}
	if _, err := m.Subscribe("192.0.2.30", 8); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Subscribe(unknown) err = %v, want ErrNotFound", err)
	}

	if err := m.Start(models.TargetInfo{Address: "192.0.2.30"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub, err := m.Subscribe("192.0.2.30", 64)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var sawSnapshot bool
	for i := 0; i < 20; i++ {
		select {
		case ev := <-sub.C:
			if ev.Sample.Target != "192.0.2.30" {
				t.Fatalf("event for %q", ev.Sample.Target)
			}
			if ev.Snapshot != nil {
				sawSnapshot = true
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no live event within 5s")
		}
	}
	if !sawSnapshot {
		t.Error("no snapshot published in 20 events")
	}

	snap, err := m.Snapshot("192.0.2.30")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.Ready() || snap.MOS < 1 || snap.MOS > 5 {
		t.Errorf("snapshot = %+v, want a scored window", snap)
	}

	if err := m.Stop("192.0.2.30"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for range sub.C {
	}
	m.Unsubscribe(sub)
}

func TestMonitoredListing(t *testing.T) {
	m, _ := newTestMonitor(t, t.TempDir(), &countingPinger{})

	err := m.StartAll([]models.TargetInfo{
		{Address: "192.0.2.2"},
		{Address: "192.0.2.1"},
		{Address: "bad host"},
	})
	if !errors.Is(err, models.ErrInvalidTarget) {
		t.Errorf("StartAll err = %v, want ErrInvalidTarget among failures", err)
	}

	got := m.Monitored()
	if len(got) != 2 || got[0].Address != "192.0.2.1" || got[1].Address != "192.0.2.2" {
		t.Fatalf("Monitored() = %+v", got)
	}

	if err := m.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if n := len(m.Monitored()); n != 0 {
		t.Errorf("Monitored() after StopAll has %d entries", n)
	}
}

func TestReconcile(t *testing.T) {
	m, _ := newTestMonitor(t, t.TempDir(), &countingPinger{})

	if err := m.Reconcile([]models.TargetInfo{{Address: "192.0.2.1"}, {Address: "192.0.2.2"}}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := m.Reconcile([]models.TargetInfo{{Address: "192.0.2.2"}, {Address: "192.0.2.3"}}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got := m.Monitored()
	if len(got) != 2 || got[0].Address != "192.0.2.2" || got[1].Address != "192.0.2.3" {
		t.Errorf("Monitored() = %+v, want 192.0.2.2 and 192.0.2.3", got)
	}
}
