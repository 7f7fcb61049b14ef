package txn

import (
	"fmt"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/types"
)

// RestoreRevision makes an old revision current again without losing
// anything: the current content is archived as a new revision, then the
// requested revision's content is copied on top as the newest one.
//
// Restore runs outside the transaction system and does not take the
// global lock; each metadata insert computes the next revision number
// afresh, so numbering stays monotonic under concurrent commits. The
// per-path mutex keeps retention pruning from racing the two inserts.
func (m *Manager) RestoreRevision(userID int64, service types.ServiceType, relPath string, revision int) (*types.FileRevision, error) {
	l := m.paths.lock(service, relPath)
	defer l.Unlock()

	cur, err := m.store.CurrentRevision(service, relPath)
	if err != nil {
		return nil, err
	}
	if revision == cur.Revision {
		return nil, ErrRestoreCurrent
	}

	requested, err := m.store.GetRevision(service, relPath, revision)
	if err != nil {
		return nil, err
	}
	if requested.IsDeleted {
		return nil, fmt.Errorf("revision %d of %s is a deletion marker and cannot be restored", revision, relPath)
	}

	// Archive the current content first so the restore loses nothing.
	// A tombstone current has no blob to preserve.
	if !cur.IsDeleted {
		archiveRev, err := m.store.NextRevisionNumber(service, relPath)
		if err != nil {
			return nil, err
		}
		hash, size, err := m.blobs.Copy(service, relPath, cur.Revision, archiveRev)
		if err != nil {
			return nil, fmt.Errorf("failed to archive current revision: %w", err)
		}
		if err := m.store.InsertRevision(&types.FileRevision{
			Service:     service,
			Path:        relPath,
			Revision:    archiveRev,
			Hash:        hash,
			Size:        size,
			ModifiedUTC: cur.ModifiedUTC,
			UserID:      cur.UserID,
		}); err != nil {
			m.blobs.Remove(service, relPath, archiveRev)
			return nil, fmt.Errorf("failed to record archive: %w", err)
		}
	}

	newRev, err := m.store.NextRevisionNumber(service, relPath)
	if err != nil {
		return nil, err
	}
	hash, size, err := m.blobs.Copy(service, relPath, revision, newRev)
	if err != nil {
		return nil, fmt.Errorf("failed to restore revision %d: %w", revision, err)
	}
	restored := &types.FileRevision{
		Service:     service,
		Path:        relPath,
		Revision:    newRev,
		Hash:        hash,
		Size:        size,
		ModifiedUTC: time.Now().UTC(),
		UserID:      userID,
	}
	if err := m.store.InsertRevision(restored); err != nil {
		m.blobs.Remove(service, relPath, newRev)
		return nil, fmt.Errorf("failed to record restore: %w", err)
	}

	m.logger.Info().
		Str("path", relPath).
		Int("restored_from", revision).
		Int("new_revision", newRev).
		Msg("Revision restored")
	return restored, nil
}
