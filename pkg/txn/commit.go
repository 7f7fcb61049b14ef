package txn

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/metrics"
	"github.com/InsereNomen/AlderSync/pkg/storage"
	"github.com/InsereNomen/AlderSync/pkg/types"
)

// CommitResult reports what a committed transaction changed
type CommitResult struct {
	FilesPulled *int
	FilesPushed *int
	FilesTotal  int
}

// landedOp journals one applied commit step so a mid-commit failure can
// unwind everything already landed
type landedOp struct {
	path       string
	revision   int
	hasBlob    bool
	stagingSrc string
}

// Commit finalizes a transaction: deletions become archived snapshots plus
// tombstones, staged uploads move into the revision store at fresh
// revision numbers, retention prunes, the operation record and
// last-operation summary update, then the lock releases and staging is
// destroyed. A failure mid-sequence unwinds every file already landed and
// marks the operation rolled back; the commit is all-or-nothing.
func (m *Manager) Commit(id string, userID int64) (*CommitResult, error) {
	tx, err := m.get(id, userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	uploaded := append([]string(nil), tx.uploaded...)
	deleted := append([]string(nil), tx.deleted...)
	m.mu.Unlock()

	now := time.Now().UTC()

	var changelistID int64
	if len(uploaded) > 0 {
		cl := &types.Changelist{
			UserID:        tx.UserID,
			CreatedAtUTC:  now,
			OperationType: tx.Operation,
			Description:   tx.Description,
		}
		if err := m.store.CreateChangelist(cl); err != nil {
			return nil, fmt.Errorf("failed to create changelist: %w", err)
		}
		changelistID = cl.ID
	}

	var landed []landedOp

	apply := func() error {
		// Deletions first, in insertion order: archive the current blob
		// as a fresh revision so the content survives, then tombstone
		for _, relPath := range deleted {
			cur, err := m.store.CurrentRevision(tx.Service, relPath)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					m.logger.Warn().Str("path", relPath).Msg("Delete requested for unknown path")
					continue
				}
				return err
			}
			if cur.IsDeleted {
				continue
			}

			archiveRev := cur.Revision + 1
			hash, size, err := m.blobs.Copy(tx.Service, relPath, cur.Revision, archiveRev)
			if err != nil {
				return fmt.Errorf("failed to archive %s: %w", relPath, err)
			}
			landed = append(landed, landedOp{path: relPath, revision: archiveRev, hasBlob: true})
			if err := m.store.InsertRevision(&types.FileRevision{
				Service:      tx.Service,
				Path:         relPath,
				Revision:     archiveRev,
				Hash:         hash,
				Size:         size,
				ModifiedUTC:  cur.ModifiedUTC,
				UserID:       tx.UserID,
				ChangelistID: changelistID,
			}); err != nil {
				return fmt.Errorf("failed to record archive of %s: %w", relPath, err)
			}

			tombstoneRev := archiveRev + 1
			if err := m.store.InsertRevision(&types.FileRevision{
				Service:      tx.Service,
				Path:         relPath,
				Revision:     tombstoneRev,
				IsDeleted:    true,
				ModifiedUTC:  now,
				UserID:       tx.UserID,
				ChangelistID: changelistID,
			}); err != nil {
				return fmt.Errorf("failed to record deletion of %s: %w", relPath, err)
			}
			landed = append(landed, landedOp{path: relPath, revision: tombstoneRev})
		}

		// Uploads in insertion order; two uploads of the same path become
		// two sequential revisions
		for _, relPath := range uploaded {
			staged := filepath.Join(tx.StagingPath, filepath.FromSlash(relPath))

			rev, err := m.store.NextRevisionNumber(tx.Service, relPath)
			if err != nil {
				return err
			}
			hash, size, err := m.blobs.MoveIn(staged, tx.Service, relPath, rev)
			if err != nil {
				return fmt.Errorf("failed to land %s: %w", relPath, err)
			}
			landed = append(landed, landedOp{path: relPath, revision: rev, hasBlob: true, stagingSrc: staged})

			if err := m.store.InsertRevision(&types.FileRevision{
				Service:      tx.Service,
				Path:         relPath,
				Revision:     rev,
				Hash:         hash,
				Size:         size,
				ModifiedUTC:  now,
				UserID:       tx.UserID,
				ChangelistID: changelistID,
			}); err != nil {
				// The blob is visible but unrecorded; the unwind below
				// removes it before the client hears anything
				return fmt.Errorf("failed to record %s: %w", relPath, err)
			}

			m.logger.Info().
				Str("transaction_id", tx.ID).
				Str("path", relPath).
				Int("revision", rev).
				Msg("Revision committed")
		}
		return nil
	}

	if err := apply(); err != nil {
		m.unwind(tx, landed)
		m.finish(tx, types.OperationRolledBack)
		m.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("Commit failed, transaction rolled back")
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	// Retention runs after the files land; the path mutex serializes it
	// against a concurrent restore
	seen := make(map[string]struct{})
	for _, relPath := range append(append([]string(nil), uploaded...), deleted...) {
		if _, ok := seen[relPath]; ok {
			continue
		}
		seen[relPath] = struct{}{}
		if err := m.pruneExcess(tx.Service, relPath); err != nil {
			m.logger.Error().Err(err).Str("path", relPath).Msg("Revision pruning failed")
		}
	}

	result := &CommitResult{}
	if tx.Operation == types.OperationReconcile {
		pull, push := len(tx.FilesToPull), len(tx.FilesToPush)
		result.FilesPulled = &pull
		result.FilesPushed = &push
		result.FilesTotal = pull + push
	} else {
		result.FilesTotal = len(uploaded) + len(deleted)
	}

	if op, err := m.store.GetOperation(tx.OperationID); err == nil {
		done := time.Now().UTC()
		op.Status = types.OperationCompleted
		op.CompletedAtUTC = &done
		op.FilesPulled = result.FilesPulled
		op.FilesPushed = result.FilesPushed
		if err := m.store.UpdateOperation(op); err != nil {
			m.logger.Error().Err(err).Msg("Failed to update operation record")
		}
	}

	if err := m.store.SetLastOperation(&types.LastOperation{
		Username:      tx.Username,
		OperationType: tx.Operation,
		Service:       tx.Service,
		TimestampUTC:  time.Now().UTC(),
		FileCount:     result.FilesTotal,
	}); err != nil {
		m.logger.Error().Err(err).Msg("Failed to update last-operation summary")
	}

	m.removeStaging(tx)

	m.mu.Lock()
	delete(m.active, tx.ID)
	m.mu.Unlock()
	metrics.ActiveTransactions.Dec()

	m.locks.ReleaseIfHeldBy(tx.UserID)
	metrics.OperationsTotal.WithLabelValues(string(tx.Operation), string(types.OperationCompleted)).Inc()

	m.logger.Info().
		Str("transaction_id", tx.ID).
		Str("user", tx.Username).
		Int("files", result.FilesTotal).
		Msg("Transaction committed")
	return result, nil
}

// unwind reverses the journal of a failed commit: metadata rows are
// deleted, landed upload blobs return to staging, archive blobs are
// unlinked
func (m *Manager) unwind(tx *Transaction, landed []landedOp) {
	for i := len(landed) - 1; i >= 0; i-- {
		op := landed[i]
		if err := m.store.DeleteRevision(tx.Service, op.path, op.revision); err != nil {
			m.logger.Error().Err(err).Str("path", op.path).Int("revision", op.revision).Msg("Unwind: failed to delete revision row")
		}
		if !op.hasBlob {
			continue
		}
		if op.stagingSrc != "" {
			if err := m.blobs.MoveOut(tx.Service, op.path, op.revision, op.stagingSrc); err != nil {
				m.logger.Error().Err(err).Str("path", op.path).Msg("Unwind: failed to restore staged file")
			}
		} else {
			if err := m.blobs.Remove(tx.Service, op.path, op.revision); err != nil {
				m.logger.Error().Err(err).Str("path", op.path).Msg("Unwind: failed to remove blob")
			}
		}
	}
}

// pruneExcess deletes the lowest-numbered revisions of a path until the
// count is within the retention cap. The current revision is never pruned.
func (m *Manager) pruneExcess(service types.ServiceType, relPath string) error {
	l := m.paths.lock(service, relPath)
	defer l.Unlock()

	maxRevisions := m.settings.MaxRevisions()
	if maxRevisions <= 0 {
		return nil
	}

	history, err := m.store.RevisionHistory(service, relPath)
	if err != nil {
		return err
	}
	excess := len(history) - maxRevisions
	if excess <= 0 {
		return nil
	}

	// History is newest first; prune from the tail (the low end)
	for i := 0; i < excess; i++ {
		victim := history[len(history)-1-i]
		if !victim.IsDeleted {
			if err := m.blobs.Remove(service, relPath, victim.Revision); err != nil {
				return err
			}
		}
		if err := m.store.DeleteRevision(service, relPath, victim.Revision); err != nil {
			return err
		}
		metrics.RevisionsPrunedTotal.Inc()
		m.logger.Debug().
			Str("path", relPath).
			Int("revision", victim.Revision).
			Msg("Revision pruned")
	}
	return nil
}
