package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/InsereNomen/AlderSync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketUsers          = []byte("users")
	bucketRoles          = []byte("roles")
	bucketRevisions      = []byte("revisions")
	bucketChangelists    = []byte("changelists")
	bucketOperations     = []byte("operations")
	bucketSettings       = []byte("settings")
	bucketIgnorePatterns = []byte("ignore_patterns")
	bucketLastOperation  = []byte("last_operation")
)

// lastOperationKey is the fixed key of the single last-operation row
var lastOperationKey = []byte("current")

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "aldersync.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketRoles,
			bucketRevisions,
			bucketChangelists,
			bucketOperations,
			bucketSettings,
			bucketIgnorePatterns,
			bucketLastOperation,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// idKey encodes an integer row id as a big-endian bucket key
func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// revisionKey encodes (service, path, revision) so that bucket order is
// service, then path, then ascending revision. Paths cannot contain NUL,
// which keeps the separator unambiguous.
func revisionKey(service types.ServiceType, path string, revision int) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(service))
	buf.WriteByte(0)
	buf.WriteString(path)
	buf.WriteByte(0)
	rev := make([]byte, 8)
	binary.BigEndian.PutUint64(rev, uint64(revision))
	buf.Write(rev)
	return buf.Bytes()
}

// revisionPrefix is the key prefix shared by all revisions of one path
func revisionPrefix(service types.ServiceType, path string) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(service))
	buf.WriteByte(0)
	buf.WriteString(path)
	buf.WriteByte(0)
	return buf.Bytes()
}

// servicePrefix is the key prefix shared by all revisions of one service
func servicePrefix(service types.ServiceType) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(service))
	buf.WriteByte(0)
	return buf.Bytes()
}

// User operations

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)

		// Usernames are unique
		var exists bool
		err := b.ForEach(func(k, v []byte) error {
			var u types.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			if u.Username == user.Username {
				exists = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("username already exists: %s", user.Username)
		}

		if user.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			user.ID = int64(seq)
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put(idKey(user.ID), data)
	})
}

func (s *BoltStore) GetUser(id int64) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get(idKey(id))
		if data == nil {
			return fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByUsername(username string) (*types.User, error) {
	var found *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			if user.Username == username {
				found = &user
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) UpdateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get(idKey(user.ID)) == nil {
			return fmt.Errorf("user %d: %w", user.ID, ErrNotFound)
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put(idKey(user.ID), data)
	})
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, &user)
			return nil
		})
	})
	return users, err
}

// Role operations

func (s *BoltStore) CreateRole(role *types.Role) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoles)
		if role.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			role.ID = int64(seq)
		}
		data, err := json.Marshal(role)
		if err != nil {
			return err
		}
		return b.Put(idKey(role.ID), data)
	})
}

func (s *BoltStore) GetRole(id int64) (*types.Role, error) {
	var role types.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoles)
		data := b.Get(idKey(id))
		if data == nil {
			return fmt.Errorf("role %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &role)
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *BoltStore) GetRoleByName(name string) (*types.Role, error) {
	var found *types.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoles)
		return b.ForEach(func(k, v []byte) error {
			var role types.Role
			if err := json.Unmarshal(v, &role); err != nil {
				return err
			}
			if role.Name == name {
				found = &role
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("role %q: %w", name, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListRoles() ([]*types.Role, error) {
	var roles []*types.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoles)
		return b.ForEach(func(k, v []byte) error {
			var role types.Role
			if err := json.Unmarshal(v, &role); err != nil {
				return err
			}
			roles = append(roles, &role)
			return nil
		})
	})
	return roles, err
}

// Revision operations

func (s *BoltStore) InsertRevision(rev *types.FileRevision) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRevisions)
		key := revisionKey(rev.Service, rev.Path, rev.Revision)
		if b.Get(key) != nil {
			return fmt.Errorf("revision %d of %s already exists", rev.Revision, rev.Path)
		}
		data, err := json.Marshal(rev)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) GetRevision(service types.ServiceType, path string, revision int) (*types.FileRevision, error) {
	var rev types.FileRevision
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRevisions)
		data := b.Get(revisionKey(service, path, revision))
		if data == nil {
			return fmt.Errorf("revision %d of %s: %w", revision, path, ErrNotFound)
		}
		return json.Unmarshal(data, &rev)
	})
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

func (s *BoltStore) DeleteRevision(service types.ServiceType, path string, revision int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRevisions)
		return b.Delete(revisionKey(service, path, revision))
	})
}

// CurrentRevision returns the highest-numbered revision for a path,
// tombstones included. ErrNotFound if the path has no history.
func (s *BoltStore) CurrentRevision(service types.ServiceType, path string) (*types.FileRevision, error) {
	var rev *types.FileRevision
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRevisions).Cursor()
		prefix := revisionPrefix(service, path)

		// Seek just past the prefix range, then step back one key
		var last []byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			last = v
		}
		if last == nil {
			return fmt.Errorf("path %s: %w", path, ErrNotFound)
		}
		var r types.FileRevision
		if err := json.Unmarshal(last, &r); err != nil {
			return err
		}
		rev = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// RevisionHistory returns all revisions of a path, newest first
func (s *BoltStore) RevisionHistory(service types.ServiceType, path string) ([]*types.FileRevision, error) {
	var revs []*types.FileRevision
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRevisions).Cursor()
		prefix := revisionPrefix(service, path)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r types.FileRevision
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			revs = append(revs, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Cursor order is ascending; history is served newest first
	for i, j := 0, len(revs)-1; i < j; i, j = i+1, j-1 {
		revs[i], revs[j] = revs[j], revs[i]
	}
	return revs, nil
}

// NextRevisionNumber returns max(revision)+1 for a path, or 0 if the
// path has never been stored
func (s *BoltStore) NextRevisionNumber(service types.ServiceType, path string) (int, error) {
	cur, err := s.CurrentRevision(service, path)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return cur.Revision + 1, nil
}

// CurrentInventory returns the current (highest) revision of every path in
// a service, excluding tombstones. One cursor pass: keys sort by path then
// ascending revision, so the last key of each path group is the current one.
func (s *BoltStore) CurrentInventory(service types.ServiceType) ([]*types.FileRevision, error) {
	var inventory []*types.FileRevision
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRevisions).Cursor()
		prefix := servicePrefix(service)

		var groupPrefix []byte
		var current *types.FileRevision
		flush := func() {
			if current != nil && !current.IsDeleted {
				inventory = append(inventory, current)
			}
			current = nil
		}

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			// Group key = everything up to the 8-byte revision suffix
			gp := k[:len(k)-8]
			if !bytes.Equal(gp, groupPrefix) {
				flush()
				groupPrefix = append(groupPrefix[:0], gp...)
			}
			var r types.FileRevision
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			current = &r
		}
		flush()
		return nil
	})
	return inventory, err
}

// Changelist operations

func (s *BoltStore) CreateChangelist(cl *types.Changelist) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChangelists)
		if cl.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			cl.ID = int64(seq)
		}
		data, err := json.Marshal(cl)
		if err != nil {
			return err
		}
		return b.Put(idKey(cl.ID), data)
	})
}

func (s *BoltStore) GetChangelist(id int64) (*types.Changelist, error) {
	var cl types.Changelist
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChangelists)
		data := b.Get(idKey(id))
		if data == nil {
			return fmt.Errorf("changelist %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &cl)
	})
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

func (s *BoltStore) ListChangelistsByUser(userID int64) ([]*types.Changelist, error) {
	var changelists []*types.Changelist
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChangelists)
		return b.ForEach(func(k, v []byte) error {
			var cl types.Changelist
			if err := json.Unmarshal(v, &cl); err != nil {
				return err
			}
			if cl.UserID == userID {
				changelists = append(changelists, &cl)
			}
			return nil
		})
	})
	return changelists, err
}

func (s *BoltStore) ListRevisionsByChangelist(changelistID int64) ([]*types.FileRevision, error) {
	var revs []*types.FileRevision
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRevisions)
		return b.ForEach(func(k, v []byte) error {
			var r types.FileRevision
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.ChangelistID == changelistID {
				revs = append(revs, &r)
			}
			return nil
		})
	})
	return revs, err
}

// Operation record operations

func (s *BoltStore) CreateOperation(op *types.OperationRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		if op.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			op.ID = int64(seq)
		}
		data, err := json.Marshal(op)
		if err != nil {
			return err
		}
		return b.Put(idKey(op.ID), data)
	})
}

func (s *BoltStore) GetOperation(id int64) (*types.OperationRecord, error) {
	var op types.OperationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		data := b.Get(idKey(id))
		if data == nil {
			return fmt.Errorf("operation %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &op)
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *BoltStore) UpdateOperation(op *types.OperationRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		if b.Get(idKey(op.ID)) == nil {
			return fmt.Errorf("operation %d: %w", op.ID, ErrNotFound)
		}
		data, err := json.Marshal(op)
		if err != nil {
			return err
		}
		return b.Put(idKey(op.ID), data)
	})
}

// Last operation summary

func (s *BoltStore) GetLastOperation() (*types.LastOperation, error) {
	var op *types.LastOperation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLastOperation)
		data := b.Get(lastOperationKey)
		if data == nil {
			return nil
		}
		var lo types.LastOperation
		if err := json.Unmarshal(data, &lo); err != nil {
			return err
		}
		op = &lo
		return nil
	})
	return op, err
}

func (s *BoltStore) SetLastOperation(op *types.LastOperation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLastOperation)
		data, err := json.Marshal(op)
		if err != nil {
			return err
		}
		return b.Put(lastOperationKey, data)
	})
}

// Settings

func (s *BoltStore) GetSetting(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("setting %q: %w", key, ErrNotFound)
		}
		value = string(data)
		return nil
	})
	return value, err
}

func (s *BoltStore) SetSetting(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), []byte(value))
	})
}

// EnsureSetting writes a setting only if it is not already present
func (s *BoltStore) EnsureSetting(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b.Get([]byte(key)) != nil {
			return nil
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) ListSettings() (map[string]string, error) {
	settings := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).ForEach(func(k, v []byte) error {
			settings[string(k)] = string(v)
			return nil
		})
	})
	return settings, err
}

// Ignore patterns. Keys are sequence ids, not the pattern text: rule
// order is load-bearing (a negation only overrides the rules before it),
// so listing must return patterns in insertion order.

func (s *BoltStore) AddIgnorePattern(pattern string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIgnorePatterns)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(idKey(int64(seq)), []byte(pattern))
	})
}

func (s *BoltStore) DeleteIgnorePattern(pattern string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIgnorePatterns)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if string(v) == pattern {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListIgnorePatterns() ([]string, error) {
	var patterns []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIgnorePatterns).ForEach(func(k, v []byte) error {
			patterns = append(patterns, string(v))
			return nil
		})
	})
	return patterns, err
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
