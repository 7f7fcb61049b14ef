package storage

import (
	"errors"

	"github.com/InsereNomen/AlderSync/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist. Callers
// translate it to a 404 at the HTTP edge.
var ErrNotFound = errors.New("not found")

// Store defines the interface for the metadata index
// This is implemented by BoltDB-backed storage
type Store interface {
	// Users
	CreateUser(user *types.User) error
	GetUser(id int64) (*types.User, error)
	GetUserByUsername(username string) (*types.User, error)
	UpdateUser(user *types.User) error
	ListUsers() ([]*types.User, error)

	// Roles
	CreateRole(role *types.Role) error
	GetRole(id int64) (*types.Role, error)
	GetRoleByName(name string) (*types.Role, error)
	ListRoles() ([]*types.Role, error)

	// File revisions
	InsertRevision(rev *types.FileRevision) error
	GetRevision(service types.ServiceType, path string, revision int) (*types.FileRevision, error)
	DeleteRevision(service types.ServiceType, path string, revision int) error
	CurrentRevision(service types.ServiceType, path string) (*types.FileRevision, error)
	RevisionHistory(service types.ServiceType, path string) ([]*types.FileRevision, error)
	NextRevisionNumber(service types.ServiceType, path string) (int, error)
	CurrentInventory(service types.ServiceType) ([]*types.FileRevision, error)

	// Changelists
	CreateChangelist(cl *types.Changelist) error
	GetChangelist(id int64) (*types.Changelist, error)
	ListChangelistsByUser(userID int64) ([]*types.Changelist, error)
	ListRevisionsByChangelist(changelistID int64) ([]*types.FileRevision, error)

	// Operation records
	CreateOperation(op *types.OperationRecord) error
	GetOperation(id int64) (*types.OperationRecord, error)
	UpdateOperation(op *types.OperationRecord) error

	// Last operation summary
	GetLastOperation() (*types.LastOperation, error)
	SetLastOperation(op *types.LastOperation) error

	// Settings
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	EnsureSetting(key, value string) error
	ListSettings() (map[string]string, error)

	// Ignore patterns
	AddIgnorePattern(pattern string) error
	DeleteIgnorePattern(pattern string) error
	ListIgnorePatterns() ([]string, error)

	// Utility
	Close() error
}
