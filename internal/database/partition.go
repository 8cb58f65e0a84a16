package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"

	"voip-monitor/internal/models"
)

// Partition is the append-only sample log of one target. Samples are
// buffered in memory and become visible to readers only when a whole batch
// is committed in a single transaction.
type Partition struct {
	info      models.TargetInfo
	db        *sql.DB
	lock      *writerLock
	batchSize int

	mu     sync.Mutex
	buf    []models.Sample
	closed bool
}

func openPartition(dataDir string, info models.TargetInfo, batchSize int, mode Durability) (*Partition, error) {
	path := PartitionPath(dataDir, info.Address)
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	lock, err := acquireWriterLock(filepath.Join(filepath.Dir(path), lockFile))
	if err != nil {
		return nil, err
	}

	db, err := openWriter(path, mode)
	if err != nil {
		lock.release()
		return nil, err
	}

	p := &Partition{
		info:      info,
		db:        db,
		lock:      lock,
		batchSize: batchSize,
		buf:       make([]models.Sample, 0, batchSize),
	}
	if err := p.registerTarget(); err != nil {
		p.db.Close()
		lock.release()
		return nil, err
	}
	return p, nil
}

func (p *Partition) registerTarget() error {
	created := p.info.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := p.db.Exec(`
        INSERT INTO target_info (address, name, created_at) VALUES (?, ?, ?)
        ON CONFLICT(address) DO UPDATE SET name = excluded.name
        WHERE excluded.name != ''
    `, p.info.Address, p.info.Name, created.Format(models.TimestampLayout))
	if err != nil {
		return fmt.Errorf("register target: %w", err)
	}
	return nil
}

// Info returns the target this partition belongs to.
func (p *Partition) Info() models.TargetInfo {
	return p.info
}

// Append buffers a sample and flushes when the batch is full. A flush error
// leaves the buffer intact; the next trigger retries it.
func (p *Partition) Append(s models.Sample) (flushed int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, models.ErrClosed
	}
	p.buf = append(p.buf, s)
	if len(p.buf) < p.batchSize {
		return 0, nil
	}
	return p.flushLocked()
}

// Flush commits all buffered samples. It is a no-op on an empty buffer.
func (p *Partition) Flush() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil
	}
	return p.flushLocked()
}

// Buffered returns how many samples are waiting for the next flush.
func (p *Partition) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

func (p *Partition) flushLocked() (int, error) {
	if len(p.buf) == 0 {
		return 0, nil
	}

	tx, err := p.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO samples (timestamp, latency_ms) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, s := range p.buf {
		if _, err := stmt.Exec(s.Timestamp.Format(models.TimestampLayout), s.LatencyMs); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}

	n := len(p.buf)
	p.buf = p.buf[:0]
	return n, nil
}

// Close flushes the buffer and releases the database and the writer lock.
// If the final flush fails the partition stays open with its buffer intact.
// Calling Close more than once is a no-op.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if _, err := p.flushLocked(); err != nil {
		return err
	}
	p.closed = true
	err := p.db.Close()
	err = multierr.Append(err, p.lock.release())
	return err
}

func (p *Partition) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
