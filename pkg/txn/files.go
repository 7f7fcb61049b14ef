package txn

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/InsereNomen/AlderSync/pkg/metrics"
	"github.com/InsereNomen/AlderSync/pkg/storage"
)

// Upload streams bytes into the transaction's staging area at the given
// relative path, computing the SHA-256 as they arrive. The returned hash
// and size let the client verify the transfer; a mismatch is the client's
// cue to abort the transaction.
func (m *Manager) Upload(id string, userID int64, relPath string, r io.Reader) (string, int64, error) {
	tx, err := m.get(id, userID)
	if err != nil {
		return "", 0, err
	}

	dst := filepath.Join(tx.StagingPath, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create staging directory: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staged file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// The partial staged file stays until the transaction aborts; it
		// never reaches the revision store
		return "", 0, fmt.Errorf("failed to stage upload: %w", err)
	}

	m.mu.Lock()
	tx.uploaded = append(tx.uploaded, relPath)
	m.mu.Unlock()

	metrics.BytesUploadedTotal.Add(float64(size))
	m.logger.Debug().
		Str("transaction_id", id).
		Str("path", relPath).
		Int64("size", size).
		Msg("File staged")

	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// Delete marks a path for deletion at commit. No filesystem effect until
// then.
func (m *Manager) Delete(id string, userID int64, relPath string) error {
	tx, err := m.get(id, userID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	tx.deleted = append(tx.deleted, relPath)
	m.mu.Unlock()

	m.logger.Debug().
		Str("transaction_id", id).
		Str("path", relPath).
		Msg("File marked for deletion")
	return nil
}

// Download opens the current (highest, non-tombstone) revision of a path
// for streaming to the client during a transaction's pull phase
func (m *Manager) Download(id string, userID int64, relPath string) (io.ReadCloser, int64, error) {
	tx, err := m.get(id, userID)
	if err != nil {
		return nil, 0, err
	}

	cur, err := m.store.CurrentRevision(tx.Service, relPath)
	if err != nil {
		return nil, 0, err
	}
	if cur.IsDeleted {
		return nil, 0, fmt.Errorf("file %s is deleted: %w", relPath, storage.ErrNotFound)
	}

	rc, err := m.blobs.Open(tx.Service, relPath, cur.Revision)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("blob for %s: %w", relPath, storage.ErrNotFound)
		}
		return nil, 0, err
	}

	metrics.BytesDownloadedTotal.Add(float64(cur.Size))
	return rc, cur.Size, nil
}
