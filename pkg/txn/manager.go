package txn

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/auth"
	"github.com/InsereNomen/AlderSync/pkg/blob"
	"github.com/InsereNomen/AlderSync/pkg/ignore"
	"github.com/InsereNomen/AlderSync/pkg/lock"
	"github.com/InsereNomen/AlderSync/pkg/log"
	"github.com/InsereNomen/AlderSync/pkg/metrics"
	"github.com/InsereNomen/AlderSync/pkg/reconcile"
	"github.com/InsereNomen/AlderSync/pkg/settings"
	"github.com/InsereNomen/AlderSync/pkg/storage"
	"github.com/InsereNomen/AlderSync/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// cancelledRetention is how long a cancelled transaction id keeps
// resolving to the distinguished cancelled error before it is forgotten
const cancelledRetention = time.Hour

// Transaction is the in-memory state of one sync session. It has no
// durable representation; its audit trail is the operation record.
type Transaction struct {
	ID          string
	UserID      int64
	Username    string
	Operation   types.OperationType
	Service     types.ServiceType
	OperationID int64
	StagingPath string
	CreatedAt   time.Time
	FilesToPull []string
	FilesToPush []string
	Description string

	// Commit applies these in insertion order
	uploaded []string
	deleted  []string
}

// Info is the admin-facing view of an active transaction
type Info struct {
	TransactionID string            `json:"transaction_id"`
	Username      string            `json:"username"`
	OperationType types.OperationType `json:"operation_type"`
	Service       types.ServiceType `json:"service_type"`
	DurationSecs  int               `json:"duration_seconds"`
	FilesToPull   *int              `json:"files_to_pull,omitempty"`
	FilesToPush   *int              `json:"files_to_push,omitempty"`
}

// Manager orchestrates the transaction lifecycle: begin through
// commit, rollback, admin cancel, or expiration sweep
type Manager struct {
	store       storage.Store
	blobs       *blob.Store
	locks       *lock.Manager
	settings    *settings.Settings
	stagingRoot string
	logger      zerolog.Logger

	mu        sync.Mutex
	active    map[string]*Transaction
	cancelled map[string]time.Time

	paths  *pathLocks
	stopCh chan struct{}
}

// NewManager creates a transaction manager and its staging root
func NewManager(store storage.Store, blobs *blob.Store, locks *lock.Manager, cfg *settings.Settings, stagingRoot string) (*Manager, error) {
	if err := os.MkdirAll(stagingRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging root: %w", err)
	}
	return &Manager{
		store:       store,
		blobs:       blobs,
		locks:       locks,
		settings:    cfg,
		stagingRoot: stagingRoot,
		logger:      log.WithComponent("txn"),
		active:      make(map[string]*Transaction),
		cancelled:   make(map[string]time.Time),
		paths:       newPathLocks(),
		stopCh:      make(chan struct{}),
	}, nil
}

// BeginRequest is a validated transaction-begin request
type BeginRequest struct {
	Operation   types.OperationType
	Service     types.ServiceType
	ClientFiles map[string]types.ClientFileInfo
	Description string
}

// BeginResult is returned to the client on a successful begin
type BeginResult struct {
	TransactionID  string
	LockAcquired   bool
	FilesToPull    []string
	FilesToPush    []string
	TimeoutSeconds int
}

// Begin starts a transaction: permission check, sync planning, lock
// acquisition, operation record, staging allocation. Planning runs before
// the lock is taken; the client proceeds on the returned plan.
func (m *Manager) Begin(p *auth.Principal, req BeginRequest) (*BeginResult, error) {
	if perm := req.Operation.RequiredPermission(); !p.HasPermission(perm) {
		return nil, &PermissionError{Permission: perm}
	}

	var filesToPull, filesToPush []string
	timeout := m.settings.LockTimeout()

	switch req.Operation {
	case types.OperationPull:
		inventory, err := m.filteredInventory(req.Service)
		if err != nil {
			return nil, err
		}
		for _, f := range inventory {
			filesToPull = append(filesToPull, f.Path)
		}

	case types.OperationReconcile:
		if len(req.ClientFiles) == 0 {
			return nil, ErrClientInventoryRequired
		}
		inventory, err := m.filteredInventory(req.Service)
		if err != nil {
			return nil, err
		}
		clientFiles := m.applyTombstonePolicy(req.Service, req.ClientFiles, inventory)
		plan := reconcile.BuildPlan(clientFiles, inventory)
		filesToPull = plan.Pull
		filesToPush = plan.Push
		timeout = lock.ReconcileTimeout(plan.TotalBytes, plan.TotalFiles, m.settings.MinLockTimeout())
	}

	granted, reason := m.locks.Acquire(p.UserID, p.Username, req.Operation, timeout)
	if !granted {
		metrics.LockDenialsTotal.Inc()
		return nil, &LockBusyError{Reason: reason}
	}

	op := &types.OperationRecord{
		UserID:        p.UserID,
		Username:      p.Username,
		OperationType: req.Operation,
		Service:       req.Service,
		LockedAtUTC:   time.Now().UTC(),
		Status:        types.OperationActive,
	}
	if err := m.store.CreateOperation(op); err != nil {
		m.locks.Release()
		return nil, fmt.Errorf("failed to create operation record: %w", err)
	}

	id := uuid.NewString()
	staging := filepath.Join(m.stagingRoot, id)
	if err := os.MkdirAll(staging, 0755); err != nil {
		m.locks.Release()
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}

	tx := &Transaction{
		ID:          id,
		UserID:      p.UserID,
		Username:    p.Username,
		Operation:   req.Operation,
		Service:     req.Service,
		OperationID: op.ID,
		StagingPath: staging,
		CreatedAt:   time.Now().UTC(),
		FilesToPull: filesToPull,
		FilesToPush: filesToPush,
		Description: req.Description,
	}

	m.mu.Lock()
	m.active[id] = tx
	m.mu.Unlock()
	metrics.ActiveTransactions.Inc()

	m.logger.Info().
		Str("transaction_id", id).
		Str("user", p.Username).
		Str("operation", string(req.Operation)).
		Str("service_type", string(req.Service)).
		Dur("timeout", timeout).
		Msg("Transaction created")

	return &BeginResult{
		TransactionID:  id,
		LockAcquired:   true,
		FilesToPull:    filesToPull,
		FilesToPush:    filesToPush,
		TimeoutSeconds: int(timeout.Seconds()),
	}, nil
}

// filteredInventory returns the current non-tombstone inventory of a
// service with ignore patterns applied
func (m *Manager) filteredInventory(service types.ServiceType) ([]*types.FileRevision, error) {
	inventory, err := m.store.CurrentInventory(service)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	patterns, err := m.store.ListIgnorePatterns()
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore patterns: %w", err)
	}
	matcher := ignore.NewMatcher(patterns)

	kept := inventory[:0]
	for _, f := range inventory {
		if !matcher.ShouldIgnore(f.Path) {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

// applyTombstonePolicy drops client paths whose server-side current
// revision is a tombstone when deletions are configured to stand. With
// the default policy a tombstone counts as absent and the client pushes
// the file back.
func (m *Manager) applyTombstonePolicy(service types.ServiceType, clientFiles map[string]types.ClientFileInfo, inventory []*types.FileRevision) map[string]types.ClientFileInfo {
	if m.settings.ReconcileTombstonesAsAbsent() {
		return clientFiles
	}

	onServer := make(map[string]struct{}, len(inventory))
	for _, f := range inventory {
		onServer[f.Path] = struct{}{}
	}

	kept := make(map[string]types.ClientFileInfo, len(clientFiles))
	for path, info := range clientFiles {
		if _, ok := onServer[path]; !ok {
			cur, err := m.store.CurrentRevision(service, path)
			if err == nil && cur.IsDeleted {
				continue
			}
		}
		kept[path] = info
	}
	return kept
}

// get resolves a transaction id for its owner. Resolution fails with the
// distinguished cancelled error after an admin cancel, and with not-found
// after a lock expiration (the sweep runs inline so the caller never
// observes a zombie transaction).
func (m *Manager) get(id string, userID int64) (*Transaction, error) {
	m.mu.Lock()
	if _, wasCancelled := m.cancelled[id]; wasCancelled {
		m.mu.Unlock()
		return nil, ErrCancelled
	}
	tx, ok := m.active[id]
	m.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	if tx.UserID != userID {
		return nil, ErrNotOwner
	}

	// Observing the lock expires it lazily; a transaction whose lock is
	// gone is dead
	if !m.locks.HeldBy(tx.UserID) {
		metrics.LockExpirationsTotal.Inc()
		m.finish(tx, types.OperationRolledBack)
		return nil, ErrNotFound
	}

	// Admin cancel may have landed on the operation record between polls
	op, err := m.store.GetOperation(tx.OperationID)
	if err == nil && op.Status == types.OperationCancelledByAdmin {
		return nil, ErrCancelled
	}
	return tx, nil
}

// Status reports whether a transaction is still live. A nil error means
// the client may keep going.
func (m *Manager) Status(id string, userID int64) error {
	_, err := m.get(id, userID)
	return err
}

// Rollback discards all staged changes, marks the operation record, and
// releases the lock
func (m *Manager) Rollback(id string, userID int64) error {
	tx, err := m.get(id, userID)
	if err != nil {
		return err
	}
	m.finish(tx, types.OperationRolledBack)
	m.logger.Info().Str("transaction_id", id).Msg("Transaction rolled back")
	return nil
}

// Cancel terminates a transaction on behalf of an admin. The id keeps
// resolving to the distinguished cancelled error so the owning client can
// run its local rollback.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	tx, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("transaction not found or already completed")
	}

	m.finish(tx, types.OperationCancelledByAdmin)

	m.mu.Lock()
	m.cancelled[id] = time.Now().UTC()
	m.mu.Unlock()

	m.logger.Info().
		Str("transaction_id", id).
		Str("user", tx.Username).
		Msg("Transaction cancelled by admin")
	return nil
}

// CurrentLock exposes the active lock (nil if none) for status reporting
func (m *Manager) CurrentLock() *lock.Lock {
	return m.locks.Current()
}

// ActiveTransactions lists in-flight transactions for the admin control
// plane
func (m *Manager) ActiveTransactions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	infos := make([]Info, 0, len(m.active))
	for _, tx := range m.active {
		info := Info{
			TransactionID: tx.ID,
			Username:      tx.Username,
			OperationType: tx.Operation,
			Service:       tx.Service,
			DurationSecs:  int(now.Sub(tx.CreatedAt).Seconds()),
		}
		if tx.Operation == types.OperationReconcile {
			pull, push := len(tx.FilesToPull), len(tx.FilesToPush)
			info.FilesToPull = &pull
			info.FilesToPush = &push
		}
		infos = append(infos, info)
	}
	return infos
}

// finish is the shared terminal path: mark the operation record, destroy
// staging, release the lock, forget the transaction
func (m *Manager) finish(tx *Transaction, status types.OperationStatus) {
	if op, err := m.store.GetOperation(tx.OperationID); err == nil {
		now := time.Now().UTC()
		op.Status = status
		op.CompletedAtUTC = &now
		if err := m.store.UpdateOperation(op); err != nil {
			m.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to update operation record")
		}
	}

	m.removeStaging(tx)

	m.mu.Lock()
	if _, ok := m.active[tx.ID]; ok {
		delete(m.active, tx.ID)
		metrics.ActiveTransactions.Dec()
	}
	m.mu.Unlock()

	// The lock may already belong to another operator if this
	// transaction outlived its timeout; never release on their behalf
	m.locks.ReleaseIfHeldBy(tx.UserID)
	metrics.OperationsTotal.WithLabelValues(string(tx.Operation), string(status)).Inc()
}

// removeStaging deletes a transaction's staging directory. No staged
// bytes outlive their transaction.
func (m *Manager) removeStaging(tx *Transaction) {
	if err := os.RemoveAll(tx.StagingPath); err != nil {
		m.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to remove staging area")
	}
}

// pathLocks serializes retention pruning against a concurrent restore of
// the same (service, path)
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *pathLocks) lock(service types.ServiceType, path string) *sync.Mutex {
	key := string(service) + "\x00" + path
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	p.mu.Unlock()
	l.Lock()
	return l
}
