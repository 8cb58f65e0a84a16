package database

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"voip-monitor/internal/models"
)

// Options configures the batched store.
type Options struct {
	BatchSize  int
	Durability Durability
}

// FlushHook is told about every flush attempt.
type FlushHook func(target string, flushed int, err error)

// Store owns the write side of every partition under a data directory.
type Store struct {
	dataDir string
	opts    Options
	logger  *zap.Logger
	onFlush []FlushHook

	mu         sync.Mutex
	partitions map[string]*Partition
	// closing holds partitions whose Close failed on the final flush.
	closing map[string]bool
}

// NewStore creates a store rooted at dataDir.
func NewStore(dataDir string, opts Options, logger *zap.Logger) (*Store, error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.Durability == "" {
		opts.Durability = Relaxed
	}
	if opts.Durability != Relaxed && opts.Durability != Strict {
		return nil, fmt.Errorf("unknown durability mode %q", opts.Durability)
	}
	if err := ensureDir(dataDir); err != nil {
		return nil, err
	}
	return &Store{
		dataDir:    dataDir,
		opts:       opts,
		logger:     logger,
		partitions: make(map[string]*Partition),
		closing:    make(map[string]bool),
	}, nil
}

// DataDir returns the root directory of all partitions.
func (s *Store) DataDir() string {
	return s.dataDir
}

// OnFlush adds a hook called after each flush attempt.
func (s *Store) OnFlush(h FlushHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFlush = append(s.onFlush, h)
}

// Open opens the partition for a target. Only one writer may hold a
// partition at a time, in this process or any other.
func (s *Store) Open(info models.TargetInfo) (*Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.partitions[info.Address]; ok {
		if !s.closing[info.Address] {
			return nil, models.ErrPartitionBusy
		}
		// Reclaim a partition still holding samples from a failed close.
		delete(s.closing, info.Address)
		s.logger.Info("partition_reclaimed", zap.String("target", info.Address), zap.Int("buffered", p.Buffered()))
		return p, nil
	}
	p, err := openPartition(s.dataDir, info, s.opts.BatchSize, s.opts.Durability)
	if err != nil {
		return nil, err
	}
	s.partitions[info.Address] = p
	s.logger.Info("partition_opened",
		zap.String("target", info.Address),
		zap.String("path", PartitionPath(s.dataDir, info.Address)),
		zap.String("durability", string(s.opts.Durability)),
	)
	return p, nil
}

func (s *Store) partition(target string) (*Partition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[target]
	return p, ok
}

// Append buffers a sample for its target's partition.
func (s *Store) Append(sample models.Sample) error {
	p, ok := s.partition(sample.Target)
	if !ok {
		return models.ErrNotFound
	}
	n, err := p.Append(sample)
	if n > 0 || err != nil {
		s.reportFlush(sample.Target, n, err)
	}
	return err
}

// Flush forces the target's buffered samples to disk.
func (s *Store) Flush(target string) error {
	p, ok := s.partition(target)
	if !ok {
		return models.ErrNotFound
	}
	n, err := p.Flush()
	if n > 0 || err != nil {
		s.reportFlush(target, n, err)
	}
	return err
}

// FlushAll flushes every open partition and retries pending closes.
// Failures are logged and retried on the next trigger.
func (s *Store) FlushAll() error {
	var errs error
	for _, p := range s.openPartitions() {
		if s.isClosing(p.info.Address) {
			errs = multierr.Append(errs, s.Close(p.info.Address))
			continue
		}
		n, err := p.Flush()
		if n > 0 || err != nil {
			s.reportFlush(p.info.Address, n, err)
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Buffered returns the number of unflushed samples for a target.
func (s *Store) Buffered(target string) int {
	p, ok := s.partition(target)
	if !ok {
		return 0
	}
	return p.Buffered()
}

// Close flushes and releases a partition. Unknown targets are a no-op.
// When the final flush fails the partition stays tracked with its buffer,
// and FlushAll retries the close.
func (s *Store) Close(target string) error {
	p, ok := s.partition(target)
	if !ok {
		return nil
	}

	buffered := p.Buffered()
	err := p.Close()
	if err != nil && !p.isClosed() {
		s.mu.Lock()
		s.closing[target] = true
		s.mu.Unlock()
		s.reportFlush(target, 0, err)
		s.logger.Error("partition_close_failed", zap.String("target", target), zap.Int("buffered", buffered), zap.Error(err))
		return err
	}

	s.mu.Lock()
	if s.partitions[target] == p {
		delete(s.partitions, target)
		delete(s.closing, target)
	}
	s.mu.Unlock()

	if buffered > 0 {
		s.reportFlush(target, buffered, nil)
	}
	if err != nil {
		s.logger.Error("partition_close_failed", zap.String("target", target), zap.Error(err))
	} else {
		s.logger.Info("partition_closed", zap.String("target", target))
	}
	return err
}

func (s *Store) isClosing(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing[target]
}

// CloseAll closes every open partition.
func (s *Store) CloseAll() error {
	s.mu.Lock()
	targets := make([]string, 0, len(s.partitions))
	for t := range s.partitions {
		targets = append(targets, t)
	}
	s.mu.Unlock()

	var errs error
	for _, t := range targets {
		errs = multierr.Append(errs, s.Close(t))
	}
	return errs
}

func (s *Store) openPartitions() []*Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]*Partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		parts = append(parts, p)
	}
	return parts
}

func (s *Store) reportFlush(target string, n int, err error) {
	if err != nil {
		s.logger.Warn("flush_failed",
			zap.String("target", target),
			zap.Int("buffered", s.Buffered(target)),
			zap.Error(err),
		)
	}
	s.mu.Lock()
	hooks := s.onFlush
	s.mu.Unlock()
	for _, h := range hooks {
		h(target, n, err)
	}
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
