package database

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"voip-monitor/internal/models"
)

// Checkpoint copies the WAL into the main database file. In relaxed mode
// this is where data reaches stable storage.
func (p *Partition) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if _, err := p.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("checkpoint %s: %w", p.info.Address, err)
	}
	return nil
}

// PruneBefore deletes flushed samples older than cutoff and returns how
// many rows were removed.
func (p *Partition) PruneBefore(cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil
	}
	res, err := p.db.Exec(`DELETE FROM samples WHERE timestamp < ?`, cutoff.Format(models.TimestampLayout))
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", p.info.Address, err)
	}
	return res.RowsAffected()
}

// Checkpoint checkpoints every open partition.
func (s *Store) Checkpoint() error {
	var errs error
	for _, p := range s.openPartitions() {
		errs = multierr.Append(errs, p.Checkpoint())
	}
	return errs
}

// Prune removes samples older than retention from every open partition.
// A zero retention keeps everything.
func (s *Store) Prune(retention time.Duration, now time.Time) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-retention)

	var total int64
	var errs error
	for _, p := range s.openPartitions() {
		n, err := p.PruneBefore(cutoff)
		total += n
		errs = multierr.Append(errs, err)
	}
	return total, errs
}
