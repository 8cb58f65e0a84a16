package monitor

import (
	"time"

	"go.uber.org/zap"
)

// flushWorker commits buffered samples on a timer so quiet targets reach
// disk without waiting for a full batch.
func (m *Monitor) flushWorker(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			// failures are logged by the store and retried next tick
			_ = m.store.FlushAll()
		}
	}
}

// maintenanceWorker runs periodic maintenance tasks
func (m *Monitor) maintenanceWorker(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.performMaintenance()
		}
	}
}

// performMaintenance checkpoints the WAL of every partition and prunes
// samples older than the retention.
func (m *Monitor) performMaintenance() {
	if err := m.store.Checkpoint(); err != nil {
		m.logger.Warn("checkpoint_failed", zap.Error(err))
	}

	pruned, err := m.store.Prune(m.opts.Retention, m.now())
	if err != nil {
		m.logger.Warn("prune_failed", zap.Error(err))
	}
	if pruned > 0 {
		m.logger.Info("samples_pruned", zap.Int64("rows", pruned), zap.Duration("retention", m.opts.Retention))
	}
}
