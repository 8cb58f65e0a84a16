package query

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voip-monitor/internal/database"
	"voip-monitor/internal/models"
	"voip-monitor/internal/ping"
)

// Registry tells which targets currently have a running prober.
type Registry interface {
	IsMonitored(address string) bool
}

// Service answers read-only queries over the store. It never touches the
// live scoring window.
type Service struct {
	reader   *database.Reader
	registry Registry
	stats    *ttlcache.Cache[string, models.Stats]
	logger   *zap.Logger
	now      func() time.Time

	genMu sync.Mutex
	gen   map[string]uint64
}

// NewService creates a query service. Stats results are cached for
// cacheTTL; a zero TTL disables caching. registry may be nil.
func NewService(reader *database.Reader, registry Registry, cacheTTL time.Duration, logger *zap.Logger) *Service {
	s := &Service{
		reader:   reader,
		registry: registry,
		logger:   logger,
		now:      time.Now,
		gen:      make(map[string]uint64),
	}
	if cacheTTL > 0 {
		s.stats = ttlcache.New(
			ttlcache.WithTTL[string, models.Stats](cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, models.Stats](),
		)
		go s.stats.Start()
	}
	return s
}

// ObserveFlush drops cached stats of a target once a flush has made new
// samples visible. It matches database.FlushHook.
func (s *Service) ObserveFlush(target string, flushed int, err error) {
	if err != nil || flushed == 0 {
		return
	}
	s.Invalidate(target)
}

// Invalidate drops every cached stats result of target.
func (s *Service) Invalidate(target string) {
	s.genMu.Lock()
	s.gen[target]++
	s.genMu.Unlock()

	if s.stats == nil {
		return
	}
	prefix := target + "|"
	for _, key := range s.stats.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.stats.Delete(key)
		}
	}
}

func (s *Service) generation(target string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gen[target]
}

// Close stops the cache janitor.
func (s *Service) Close() {
	if s.stats != nil {
		s.stats.Stop()
	}
}

// ListTargets returns every stored target with its sample count and time
// span, ordered by address. A target whose partition cannot be read is
// listed with Error set.
func (s *Service) ListTargets(ctx context.Context) ([]models.TargetSummary, error) {
	infos, err := s.reader.Targets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	summaries := make([]models.TargetSummary, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, info := range infos {
		i, info := i, info
		g.Go(func() error {
			sum, err := s.reader.Summary(gctx, info.Address)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				// One unreadable partition must not hide the others.
				s.logger.Warn("target_summary_failed", zap.String("target", info.Address), zap.Error(err))
				sum = models.TargetSummary{Address: info.Address, Error: err.Error()}
			}
			if sum.Name == "" {
				sum.Name = info.Name
			}
			if s.registry != nil {
				sum.Monitored = s.registry.IsMonitored(info.Address)
			}
			summaries[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return summaries, nil
}

// Samples returns one page of samples matching f, newest first, with the
// total number of matches.
func (s *Service) Samples(ctx context.Context, target string, f models.SampleFilter) (models.SamplePage, error) {
	if err := ping.ValidateAddress(target); err != nil {
		return models.SamplePage{}, err
	}
	if err := f.Validate(); err != nil {
		return models.SamplePage{}, err
	}

	samples, total, err := s.reader.Samples(ctx, target, f)
	if err != nil {
		return models.SamplePage{}, err
	}
	if samples == nil {
		samples = []models.Sample{}
	}
	return models.SamplePage{
		Target:       target,
		TotalResults: total,
		Returned:     len(samples),
		Offset:       f.Offset,
		Limit:        f.Limit,
		Samples:      samples,
	}, nil
}

// Stats aggregates a time range. An empty range yields HasData false, not
// an error.
func (s *Service) Stats(ctx context.Context, target string, rng models.TimeRange) (models.Stats, error) {
	if err := ping.ValidateAddress(target); err != nil {
		return models.Stats{}, err
	}
	if err := rng.Validate(); err != nil {
		return models.Stats{}, err
	}

	key := statsKey(target, rng)
	if s.stats != nil {
		if item := s.stats.Get(key); item != nil {
			return item.Value(), nil
		}
	}

	gen := s.generation(target)
	agg, latencies, err := s.reader.Aggregate(ctx, target, rng)
	if err != nil {
		return models.Stats{}, err
	}
	stats := computeStats(target, agg, latencies)

	// A flush during the read makes this result stale; serve it uncached.
	if s.stats != nil && s.generation(target) == gen {
		s.stats.Set(key, stats, ttlcache.DefaultTTL)
	}
	return stats, nil
}

// Recent returns the samples of the last minutes, newest first.
func (s *Service) Recent(ctx context.Context, target string, minutes int) (models.RecentSamples, error) {
	if err := ping.ValidateAddress(target); err != nil {
		return models.RecentSamples{}, err
	}
	if minutes < 1 || minutes > models.MaxRecentMins {
		return models.RecentSamples{}, fmt.Errorf("%w: minutes must be between 1 and %d", models.ErrInvalidFilter, models.MaxRecentMins)
	}

	from := s.now().Add(-time.Duration(minutes) * time.Minute).Truncate(time.Second)
	samples, err := s.reader.Since(ctx, target, from)
	if err != nil {
		return models.RecentSamples{}, err
	}
	if samples == nil {
		samples = []models.Sample{}
	}
	return models.RecentSamples{
		Target:  target,
		Minutes: minutes,
		From:    from,
		Total:   len(samples),
		Samples: samples,
	}, nil
}

// Range returns every sample in rng in chronological order.
func (s *Service) Range(ctx context.Context, target string, rng models.TimeRange) ([]models.Sample, error) {
	if err := ping.ValidateAddress(target); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	return s.reader.Range(ctx, target, rng)
}

// Heatmap profiles loss and latency by hour of day over the last days.
func (s *Service) Heatmap(ctx context.Context, target string, days int) (models.Heatmap, error) {
	if err := ping.ValidateAddress(target); err != nil {
		return models.Heatmap{}, err
	}
	if days < 1 || days > models.MaxHeatmapDays {
		return models.Heatmap{}, fmt.Errorf("%w: days must be between 1 and %d", models.ErrInvalidFilter, models.MaxHeatmapDays)
	}

	from := s.now().AddDate(0, 0, -days).Truncate(time.Second)
	patterns, err := s.reader.HourlyPatterns(ctx, target, models.TimeRange{From: &from})
	if err != nil {
		return models.Heatmap{}, err
	}
	if patterns == nil {
		patterns = []models.HourlyPattern{}
	}
	for i := range patterns {
		p := &patterns[i]
		p.LossPercent = round2(100 * float64(p.Timeouts) / float64(p.TotalPings))
		if p.AvgLatencyMs != nil {
			avg := round2(*p.AvgLatencyMs)
			p.AvgLatencyMs = &avg
		}
	}
	return models.Heatmap{Target: target, Days: days, From: from, Hours: patterns}, nil
}

// Info returns the registration record of a stored target.
func (s *Service) Info(ctx context.Context, target string) (models.TargetInfo, error) {
	if err := ping.ValidateAddress(target); err != nil {
		return models.TargetInfo{}, err
	}
	sum, err := s.reader.Summary(ctx, target)
	if err != nil {
		return models.TargetInfo{}, err
	}
	return models.TargetInfo{Address: sum.Address, Name: sum.Name}, nil
}

func computeStats(target string, agg database.Aggregate, latencies []float64) models.Stats {
	stats := models.Stats{
		Target:     target,
		HasData:    agg.Total > 0,
		From:       agg.First,
		To:         agg.Last,
		TotalPings: agg.Total,
		Successful: agg.Total - agg.Timeouts,
		Timeouts:   agg.Timeouts,
	}
	if agg.Total > 0 {
		stats.PacketLossPercent = round2(100 * float64(agg.Timeouts) / float64(agg.Total))
	}
	if len(latencies) > 0 {
		stats.Latency = &models.LatencyStats{
			MinMs:    agg.MinLatency.Float64,
			MaxMs:    agg.MaxLatency.Float64,
			AvgMs:    round2(agg.AvgLatency.Float64),
			MedianMs: Percentile(latencies, 0.50),
			P95Ms:    Percentile(latencies, 0.95),
			P99Ms:    Percentile(latencies, 0.99),
		}
	}
	return stats
}

// Percentile indexes a sorted slice at floor(n*p), clamped to the last
// element.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func statsKey(target string, rng models.TimeRange) string {
	key := target + "|"
	if rng.From != nil {
		key += rng.From.Format(time.RFC3339)
	}
	key += "|"
	if rng.To != nil {
		key += rng.To.Format(time.RFC3339)
	}
	return key
}
