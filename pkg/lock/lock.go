package lock

import (
	"fmt"
	"sync"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/log"
	"github.com/InsereNomen/AlderSync/pkg/types"
)

// Lock is the single process-wide exclusive lock. At most one exists.
type Lock struct {
	UserID     int64
	Username   string
	Operation  types.OperationType
	AcquiredAt time.Time
	Timeout    time.Duration
}

// Expired reports whether the lock has outlived its timeout
func (l *Lock) Expired(now time.Time) bool {
	return now.Sub(l.AcquiredAt) >= l.Timeout
}

// ElapsedSeconds is how long the lock has been held
func (l *Lock) ElapsedSeconds(now time.Time) int {
	return int(now.Sub(l.AcquiredAt).Seconds())
}

// Manager enforces mutual exclusion across all sync operations. Every
// observation of the lock first evaluates expiration, so a stale lock
// clears itself on the next access.
type Manager struct {
	mu      sync.Mutex
	current *Lock

	// now is swappable for tests
	now func() time.Time
}

// NewManager creates a lock manager with no lock held
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// Acquire attempts to take the exclusive lock. On denial the reason names
// the current holder, their operation, and how long ago they started.
func (m *Manager) Acquire(userID int64, username string, op types.OperationType, timeout time.Duration) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expireLocked(now)

	if m.current != nil {
		reason := fmt.Sprintf(
			"Server is busy - %s is currently running a %s operation (started %d seconds ago)",
			m.current.Username, m.current.Operation, m.current.ElapsedSeconds(now),
		)
		return false, reason
	}

	m.current = &Lock{
		UserID:     userID,
		Username:   username,
		Operation:  op,
		AcquiredAt: now,
		Timeout:    timeout,
	}
	lockLogger := log.WithComponent("lock")
	lockLogger.Info().
		Str("user", username).
		Str("operation", string(op)).
		Dur("timeout", timeout).
		Msg("Lock acquired")
	return true, ""
}

// Current returns a copy of the active lock, or nil. Expiration is
// evaluated first.
func (m *Manager) Current() *Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(m.now())
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// HeldBy reports whether a non-expired lock is held by the given user
func (m *Manager) HeldBy(userID int64) bool {
	l := m.Current()
	return l != nil && l.UserID == userID
}

// Release clears the lock unconditionally
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		lockLogger := log.WithComponent("lock")
		lockLogger.Info().
			Str("user", m.current.Username).
			Msg("Lock released")
		m.current = nil
	}
}

// ReleaseIfHeldBy clears the lock only if the given user still holds it.
// A lock that expired and was re-acquired by another operator is left
// alone, so sweeping a dead transaction cannot release a live holder.
func (m *Manager) ReleaseIfHeldBy(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(m.now())
	if m.current == nil || m.current.UserID != userID {
		return
	}
	lockLogger := log.WithComponent("lock")
	lockLogger.Info().
		Str("user", m.current.Username).
		Msg("Lock released")
	m.current = nil
}

// expireLocked clears an expired lock. Caller holds m.mu.
func (m *Manager) expireLocked(now time.Time) {
	if m.current != nil && m.current.Expired(now) {
		lockLogger := log.WithComponent("lock")
		lockLogger.Info().
			Str("user", m.current.Username).
			Dur("timeout", m.current.Timeout).
			Msg("Lock expired")
		m.current = nil
	}
}

// ReconcileTimeout computes the lock timeout for a Reconcile transaction
// from its planned sync sets: max(min, totalMB + 2*fileCount) seconds.
// A fixed short timeout would expire under a large plan mid-transfer.
func ReconcileTimeout(totalBytes int64, fileCount int, min time.Duration) time.Duration {
	computed := time.Duration(totalBytes/(1024*1024)+int64(2*fileCount)) * time.Second
	if computed < min {
		return min
	}
	return computed
}
