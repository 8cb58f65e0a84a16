package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voip-monitor/internal/database"
	"voip-monitor/internal/metrics"
	"voip-monitor/internal/models"
	"voip-monitor/internal/ping"
	"voip-monitor/internal/quality"
)

// Options configures probing and background work.
type Options struct {
	Interval            time.Duration
	Timeout             time.Duration
	MinLatency          time.Duration
	Quality             quality.Options
	FlushInterval       time.Duration
	MaintenanceInterval time.Duration
	Retention           time.Duration
}

// Event is one sample published to live subscribers, with the quality
// snapshot when this sample triggered a recompute.
type Event struct {
	Sample   models.Sample     `json:"sample"`
	Snapshot *quality.Snapshot `json:"snapshot,omitempty"`
}

// Subscription receives the events of one target. C is closed when the
// subscription ends or the target stops.
type Subscription struct {
	C      <-chan Event
	target string
	ch     chan Event
}

type target struct {
	info   models.TargetInfo
	scorer *quality.Scorer
	cancel context.CancelFunc
	done   chan struct{}
}

// Monitor is the registry of monitored targets. Each target owns one
// probing goroutine, one store partition and one scorer.
type Monitor struct {
	opts    Options
	store   *database.Store
	pinger  models.Pinger
	metrics *metrics.Collector
	logger  *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	targets map[string]*target

	subsMu sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
}

// New creates a Monitor and starts its flush and maintenance workers.
// collector may be nil.
func New(opts Options, store *database.Store, pinger models.Pinger, collector *metrics.Collector, logger *zap.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		opts:    opts,
		store:   store,
		pinger:  pinger,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
		ctx:     ctx,
		cancel:  cancel,
		targets: make(map[string]*target),
		subs:    make(map[string]map[*Subscription]struct{}),
	}
	if collector != nil {
		store.OnFlush(collector.ObserveFlush)
	}

	if opts.FlushInterval > 0 {
		m.wg.Add(1)
		go m.flushWorker(opts.FlushInterval)
	}
	if opts.MaintenanceInterval > 0 {
		m.wg.Add(1)
		go m.maintenanceWorker(opts.MaintenanceInterval)
	}
	return m
}

// Start begins monitoring a target. It fails on an invalid address, on a
// target that is already monitored, and on a partition held by another
// writer.
func (m *Monitor) Start(info models.TargetInfo) error {
	if err := ping.ValidateAddress(info.Address); err != nil {
		return err
	}
	if m.ctx.Err() != nil {
		return models.ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.targets[info.Address]; ok {
		return fmt.Errorf("%w: %s", models.ErrAlreadyMonitored, info.Address)
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = m.now()
	}
	if _, err := m.store.Open(info); err != nil {
		return fmt.Errorf("open partition for %s: %w", info.Address, err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	t := &target{
		info:   info,
		scorer: quality.NewScorer(info.Address, m.opts.Quality),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.targets[info.Address] = t

	p := &prober{
		target:     info.Address,
		pinger:     m.pinger,
		period:     m.opts.Interval,
		timeout:    m.opts.Timeout,
		minLatency: m.opts.MinLatency,
		emit:       func(s models.Sample) { m.record(t, s) },
		logger:     m.logger,
		now:        m.now,
		sleep:      m.sleep,
	}
	go func() {
		defer close(t.done)
		p.run(ctx)
	}()

	m.logger.Info("target_started", zap.String("target", info.Address), zap.String("name", info.Name))
	return nil
}

// StartAll starts every target and returns the combined failures.
func (m *Monitor) StartAll(infos []models.TargetInfo) error {
	var errs error
	for _, info := range infos {
		if err := m.Start(info); err != nil {
			m.logger.Error("target_start_failed", zap.String("target", info.Address), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Stop ends monitoring of a target after its current tick, flushes and
// releases its partition. Stopping an unknown target is a no-op.
func (m *Monitor) Stop(address string) error {
	m.mu.Lock()
	t, ok := m.targets[address]
	delete(m.targets, address)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	t.cancel()
	<-t.done

	err := m.store.Close(address)
	m.closeSubscribers(address)
	if m.metrics != nil {
		m.metrics.Forget(address)
	}
	m.logger.Info("target_stopped", zap.String("target", address))
	return err
}

// StopAll stops every target concurrently.
func (m *Monitor) StopAll() error {
	var g errgroup.Group
	for _, info := range m.Monitored() {
		address := info.Address
		g.Go(func() error {
			return m.Stop(address)
		})
	}
	return g.Wait()
}

// Reconcile makes the monitored set equal desired: targets missing from
// desired are stopped and new ones started. Running targets are left alone.
func (m *Monitor) Reconcile(desired []models.TargetInfo) error {
	want := make(map[string]bool, len(desired))
	for _, info := range desired {
		want[info.Address] = true
	}

	var errs error
	for _, info := range m.Monitored() {
		if !want[info.Address] {
			errs = multierr.Append(errs, m.Stop(info.Address))
		}
	}
	for _, info := range desired {
		if m.IsMonitored(info.Address) {
			continue
		}
		if err := m.Start(info); err != nil {
			m.logger.Error("target_start_failed", zap.String("target", info.Address), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Close stops every target and the background workers.
func (m *Monitor) Close() error {
	m.cancel()
	err := m.StopAll()
	m.wg.Wait()
	return err
}

// Monitored lists the monitored targets ordered by address.
func (m *Monitor) Monitored() []models.TargetInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]models.TargetInfo, 0, len(m.targets))
	for _, t := range m.targets {
		infos = append(infos, t.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Address < infos[j].Address })
	return infos
}

// IsMonitored reports whether address has a running prober.
func (m *Monitor) IsMonitored(address string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.targets[address]
	return ok
}

// Snapshot returns the latest quality snapshot of a monitored target.
func (m *Monitor) Snapshot(address string) (quality.Snapshot, error) {
	m.mu.RLock()
	t, ok := m.targets[address]
	m.mu.RUnlock()

	if !ok {
		return quality.Snapshot{}, models.ErrNotFound
	}
	return t.scorer.Snapshot(), nil
}

// Subscribe opens a live feed of a monitored target's events. Slow
// subscribers miss events rather than delay the prober.
func (m *Monitor) Subscribe(address string, buffer int) (*Subscription, error) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, target: address, ch: ch}

	// Holding mu orders registration against Stop, which removes the
	// target under mu before closing its subscribers.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.targets[address]; !ok {
		return nil, models.ErrNotFound
	}

	m.subsMu.Lock()
	if m.subs[address] == nil {
		m.subs[address] = make(map[*Subscription]struct{})
	}
	m.subs[address][sub] = struct{}{}
	m.subsMu.Unlock()
	return sub, nil
}

// Unsubscribe ends a subscription. It is safe to call more than once.
func (m *Monitor) Unsubscribe(sub *Subscription) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if _, ok := m.subs[sub.target][sub]; ok {
		delete(m.subs[sub.target], sub)
		close(sub.ch)
	}
}

func (m *Monitor) closeSubscribers(address string) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for sub := range m.subs[address] {
		close(sub.ch)
	}
	delete(m.subs, address)
}

// record fans a sample out to the store, the scorer, metrics and live
// subscribers. It runs on the target's prober goroutine.
func (m *Monitor) record(t *target, s models.Sample) {
	if err := m.store.Append(s); err != nil && !errors.Is(err, models.ErrClosed) {
		m.logger.Warn("append_failed", zap.String("target", s.Target), zap.Error(err))
	}

	ev := Event{Sample: s}
	if t.scorer.Observe(s) {
		snap := t.scorer.Snapshot()
		ev.Snapshot = &snap
		if m.metrics != nil {
			m.metrics.ObserveSnapshot(snap)
		}
		if snap.Ready() {
			m.logger.Debug("quality_updated",
				zap.String("target", s.Target),
				zap.Float64("mos", snap.MOS),
				zap.String("quality", string(snap.Quality)),
			)
		}
	}
	if m.metrics != nil {
		m.metrics.ObserveSample(s, m.store.Buffered(s.Target))
	}
	m.broadcast(ev)
}

func (m *Monitor) broadcast(ev Event) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	for sub := range m.subs[ev.Sample.Target] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
