package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/InsereNomen/AlderSync/pkg/types"
)

// hashChunkSize is the read size used for streaming hash computation
const hashChunkSize = 8 * 1024

// Store persists revision blobs on disk under a single root directory,
// one subtree per service
type Store struct {
	root string
}

// NewStore creates the blob store root (and per-service directories) if needed
func NewStore(root string) (*Store, error) {
	for _, service := range []types.ServiceType{types.ServiceContemporary, types.ServiceTraditional} {
		dir := filepath.Join(root, string(service))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the storage root directory
func (s *Store) Root() string {
	return s.root
}

// revisionFileName inserts the revision number before the final extension:
// notes.txt at revision 3 is stored as notes.3.txt; extensionless names get
// the number appended.
func revisionFileName(base string, revision int) string {
	ext := filepath.Ext(base)
	if ext == "" {
		return base + "." + strconv.Itoa(revision)
	}
	return strings.TrimSuffix(base, ext) + "." + strconv.Itoa(revision) + ext
}

// RevisionPath returns the on-disk location of a revision blob
func (s *Store) RevisionPath(service types.ServiceType, relPath string, revision int) string {
	rel := filepath.FromSlash(relPath)
	dir, base := filepath.Split(rel)
	return filepath.Join(s.root, string(service), dir, revisionFileName(base, revision))
}

// Write stores a revision blob atomically: bytes stream into a temporary
// file while the SHA-256 accumulates, then a rename makes the blob visible.
// A partial write never becomes visible.
func (s *Store) Write(service types.ServiceType, relPath string, revision int, r io.Reader) (string, int64, error) {
	dst := s.RevisionPath(service, relPath, revision)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".blob-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to finalize blob: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// Open returns a read stream for a revision blob
func (s *Store) Open(service types.ServiceType, relPath string, revision int) (io.ReadCloser, error) {
	f, err := os.Open(s.RevisionPath(service, relPath, revision))
	if err != nil {
		return nil, fmt.Errorf("failed to open revision %d of %s: %w", revision, relPath, err)
	}
	return f, nil
}

// Remove deletes a revision blob from disk
func (s *Store) Remove(service types.ServiceType, relPath string, revision int) error {
	if err := os.Remove(s.RevisionPath(service, relPath, revision)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove revision %d of %s: %w", revision, relPath, err)
	}
	return nil
}

// MoveIn lands a staged file as a revision blob via rename, falling back
// to an atomic copy when staging and storage are on different filesystems.
// Hash and size are computed from the landed file.
func (s *Store) MoveIn(src string, service types.ServiceType, relPath string, revision int) (string, int64, error) {
	dst := s.RevisionPath(service, relPath, revision)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create parent directory: %w", err)
	}

	if err := os.Rename(src, dst); err != nil {
		f, err := os.Open(src)
		if err != nil {
			return "", 0, fmt.Errorf("failed to open staged file: %w", err)
		}
		_, _, werr := s.Write(service, relPath, revision, f)
		f.Close()
		if werr != nil {
			return "", 0, werr
		}
		os.Remove(src)
	}
	return HashFile(dst)
}

// MoveOut renames a landed revision blob back to a staging location.
// Used to unwind a partially applied commit.
func (s *Store) MoveOut(service types.ServiceType, relPath string, revision int, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	if err := os.Rename(s.RevisionPath(service, relPath, revision), dst); err != nil {
		return fmt.Errorf("failed to restore staged file: %w", err)
	}
	return nil
}

// Copy duplicates an existing revision blob to a new revision number.
// Used by delete archival and revision restore.
func (s *Store) Copy(service types.ServiceType, relPath string, fromRevision, toRevision int) (string, int64, error) {
	f, err := os.Open(s.RevisionPath(service, relPath, fromRevision))
	if err != nil {
		return "", 0, fmt.Errorf("failed to open revision %d of %s: %w", fromRevision, relPath, err)
	}
	defer f.Close()
	return s.Write(service, relPath, toRevision, f)
}

// HashFile computes the SHA-256 of a file with streaming chunked reads,
// returning the lowercase hex digest and the byte count
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, hashChunkSize)
	var size int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			size += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("failed to read file for hashing: %w", err)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
