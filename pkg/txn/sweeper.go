package txn

import (
	"os"
	"path/filepath"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/metrics"
	"github.com/InsereNomen/AlderSync/pkg/types"
)

// sweepInterval is how often the background pass looks for transactions
// whose lock expired underneath them
const sweepInterval = 30 * time.Second

// Start begins the background expiration sweep
func (m *Manager) Start() {
	go m.run()
}

// Stop stops the background sweep
func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) run() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	m.logger.Info().Msg("Expiration sweeper started")
	for {
		select {
		case <-ticker.C:
			m.SweepExpired()
		case <-m.stopCh:
			m.logger.Info().Msg("Expiration sweeper stopped")
			return
		}
	}
}

// SweepExpired rolls back transactions that still hold a staging area
// after their lock expired, and forgets cancelled ids past retention
func (m *Manager) SweepExpired() {
	m.mu.Lock()
	var stale []*Transaction
	for _, tx := range m.active {
		stale = append(stale, tx)
	}
	cutoff := time.Now().UTC().Add(-cancelledRetention)
	for id, at := range m.cancelled {
		if at.Before(cutoff) {
			delete(m.cancelled, id)
		}
	}
	m.mu.Unlock()

	for _, tx := range stale {
		if m.locks.HeldBy(tx.UserID) {
			continue
		}
		metrics.LockExpirationsTotal.Inc()
		m.logger.Warn().
			Str("transaction_id", tx.ID).
			Str("user", tx.Username).
			Msg("Lock expired, rolling back abandoned transaction")
		m.finish(tx, types.OperationRolledBack)
	}
}

// CleanStagingRoot removes staging directories not owned by a live
// transaction. Runs at startup to reclaim debris from a crash.
func (m *Manager) CleanStagingRoot() error {
	entries, err := os.ReadDir(m.stagingRoot)
	if err != nil {
		return err
	}

	m.mu.Lock()
	live := make(map[string]struct{}, len(m.active))
	for id := range m.active {
		live[id] = struct{}{}
	}
	m.mu.Unlock()

	for _, entry := range entries {
		if _, ok := live[entry.Name()]; ok {
			continue
		}
		path := filepath.Join(m.stagingRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Error().Err(err).Str("path", path).Msg("Failed to remove stale staging directory")
			continue
		}
		m.logger.Info().Str("path", path).Msg("Removed stale staging directory")
	}
	return nil
}
