package types

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ServiceType identifies one of the two parallel content trees
type ServiceType string

const (
	ServiceContemporary ServiceType = "Contemporary"
	ServiceTraditional  ServiceType = "Traditional"
)

// ParseServiceType validates a service type received from a client
func ParseServiceType(s string) (ServiceType, error) {
	switch ServiceType(s) {
	case ServiceContemporary, ServiceTraditional:
		return ServiceType(s), nil
	}
	return "", fmt.Errorf("invalid service type: %q", s)
}

// OperationType identifies the kind of sync operation
type OperationType string

const (
	OperationPull      OperationType = "Pull"
	OperationPush      OperationType = "Push"
	OperationReconcile OperationType = "Reconcile"
)

// ParseOperationType validates an operation type received from a client
func ParseOperationType(s string) (OperationType, error) {
	switch OperationType(s) {
	case OperationPull, OperationPush, OperationReconcile:
		return OperationType(s), nil
	}
	return "", fmt.Errorf("invalid operation type: %q", s)
}

// Permission names. PermissionAdmin implies every other permission.
const (
	PermissionAdmin     = "admin"
	PermissionPush      = "can_push"
	PermissionPull      = "can_pull"
	PermissionReconcile = "can_reconcile"
	PermissionViewFiles = "can_view_files"
)

// RequiredPermission returns the permission gating an operation type.
// Pull only requires authentication, signalled by an empty string.
func (op OperationType) RequiredPermission() string {
	switch op {
	case OperationPush:
		return PermissionPush
	case OperationReconcile:
		return PermissionReconcile
	}
	return ""
}

// OperationStatus is the lifecycle status of an operation record
type OperationStatus string

const (
	OperationActive           OperationStatus = "active"
	OperationCompleted        OperationStatus = "completed"
	OperationRolledBack       OperationStatus = "rolled_back"
	OperationCancelledByAdmin OperationStatus = "cancelled_by_admin"
)

// User holds credentials and role assignment for an operator
type User struct {
	ID           int64      `json:"user_id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	RoleID       int64      `json:"role_id"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Role carries a named set of permissions
type Role struct {
	ID          int64    `json:"role_id"`
	Name        string   `json:"role_name"`
	Description string   `json:"description"`
	IsSystem    bool     `json:"is_system_role"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the role grants the named permission.
// The admin permission grants everything.
func (r *Role) HasPermission(name string) bool {
	for _, p := range r.Permissions {
		if p == PermissionAdmin || p == name {
			return true
		}
	}
	return false
}

// FileRevision is one immutable snapshot of a file's history.
// Hash and Size are meaningless when IsDeleted is set (tombstone).
type FileRevision struct {
	Service      ServiceType `json:"service_type"`
	Path         string      `json:"path"`
	Revision     int         `json:"revision"`
	Hash         string      `json:"file_hash,omitempty"`
	Size         int64       `json:"size"`
	IsDeleted    bool        `json:"is_deleted"`
	ModifiedUTC  time.Time   `json:"modified_utc"`
	UserID       int64       `json:"user_id,omitempty"`
	ChangelistID int64       `json:"changelist_id,omitempty"`
}

// Changelist groups the revisions produced by one committed transaction
type Changelist struct {
	ID            int64         `json:"changelist_id"`
	UserID        int64         `json:"user_id"`
	CreatedAtUTC  time.Time     `json:"created_at_utc"`
	OperationType OperationType `json:"operation_type"`
	Description   string        `json:"description"`
}

// OperationRecord is the durable audit row for every transaction begin
type OperationRecord struct {
	ID             int64           `json:"operation_id"`
	UserID         int64           `json:"user_id"`
	Username       string          `json:"username"`
	OperationType  OperationType   `json:"operation_type"`
	Service        ServiceType     `json:"service_type"`
	LockedAtUTC    time.Time       `json:"locked_at_utc"`
	CompletedAtUTC *time.Time      `json:"completed_at_utc,omitempty"`
	FilesPulled    *int            `json:"files_pulled,omitempty"`
	FilesPushed    *int            `json:"files_pushed,omitempty"`
	Status         OperationStatus `json:"status"`
}

// LastOperation is the single-row summary of the most recent commit
type LastOperation struct {
	Username      string        `json:"username"`
	OperationType OperationType `json:"operation_type"`
	Service       ServiceType   `json:"service_type"`
	TimestampUTC  time.Time     `json:"timestamp_utc"`
	FileCount     int           `json:"file_count"`
}

// FileInfo is one entry of the server's current inventory
type FileInfo struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	ModifiedUTC time.Time `json:"modified_utc"`
}

// ClientFileInfo is the client's view of one local file, sent with
// a Reconcile begin request
type ClientFileInfo struct {
	ModifiedUTC time.Time `json:"modified_utc"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
}

// CleanRelativePath normalizes and validates a client-supplied path.
// Paths are forward-slash separated, relative, and may not traverse
// above their service root.
func CleanRelativePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute path not allowed: %q", p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path traversal not allowed: %q", p)
	}
	return cleaned, nil
}
