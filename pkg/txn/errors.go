package txn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the transaction id does not resolve. This is also
	// what the owner of an expired transaction sees on their next call.
	ErrNotFound = errors.New("transaction not found")

	// ErrNotOwner means the transaction exists but belongs to someone else
	ErrNotOwner = errors.New("transaction is owned by another user")

	// ErrCancelled means an admin cancelled the transaction. The HTTP
	// layer maps it to the distinguished 409 body clients match on.
	ErrCancelled = errors.New("transaction cancelled by admin")

	// ErrClientInventoryRequired means a Reconcile begin arrived without
	// client file metadata
	ErrClientInventoryRequired = errors.New("reconcile requires a client file inventory")

	// ErrRestoreCurrent means a restore targeted the revision that is
	// already current
	ErrRestoreCurrent = errors.New("revision is already the current version")
)

// LockBusyError is returned by Begin when another operator holds the
// exclusive lock. Reason names the holder, their operation, and elapsed
// time.
type LockBusyError struct {
	Reason string
}

func (e *LockBusyError) Error() string {
	return e.Reason
}

// PermissionError is returned by Begin when the user lacks the permission
// required for the requested operation type
type PermissionError struct {
	Permission string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("missing permission: %s", e.Permission)
}
