package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/InsereNomen/AlderSync/pkg/auth"
	"github.com/InsereNomen/AlderSync/pkg/storage"
	"github.com/InsereNomen/AlderSync/pkg/txn"
)

// codeCancelled is the distinguished error code clients match on to run
// their local rollback after an admin cancellation
const codeCancelled = "transaction_cancelled_by_admin"

// apiError is the single error shape handlers return; the edge translates
// it to an HTTP status and JSON body exactly once
type apiError struct {
	status int
	detail string
	code   string
}

func (e *apiError) Error() string {
	return e.detail
}

func errBadRequest(detail string) *apiError {
	return &apiError{status: http.StatusBadRequest, detail: detail}
}

func errUnauthorized(detail string) *apiError {
	return &apiError{status: http.StatusUnauthorized, detail: detail}
}

func errForbidden(detail string) *apiError {
	return &apiError{status: http.StatusForbidden, detail: detail}
}

func errNotFound(detail string) *apiError {
	return &apiError{status: http.StatusNotFound, detail: detail}
}

func errConflict(detail string) *apiError {
	return &apiError{status: http.StatusConflict, detail: detail}
}

func errInternal(detail string) *apiError {
	return &apiError{status: http.StatusInternalServerError, detail: detail}
}

// fromEngine maps engine errors onto HTTP statuses: missing resources to
// 404, ownership to 403, lock contention and admin cancellation to 409
// (the latter with its distinguished code), validation to 400
func fromEngine(err error) *apiError {
	var lockBusy *txn.LockBusyError
	var noPerm *txn.PermissionError

	switch {
	case errors.Is(err, txn.ErrCancelled):
		return &apiError{
			status: http.StatusConflict,
			detail: "This operation was cancelled by an administrator",
			code:   codeCancelled,
		}
	case errors.Is(err, txn.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return errNotFound(err.Error())
	case errors.Is(err, txn.ErrNotOwner):
		return errForbidden(err.Error())
	case errors.Is(err, txn.ErrClientInventoryRequired), errors.Is(err, txn.ErrRestoreCurrent):
		return errBadRequest(err.Error())
	case errors.Is(err, auth.ErrAuthFailed):
		return errUnauthorized(err.Error())
	case errors.As(err, &lockBusy):
		return errConflict(lockBusy.Reason)
	case errors.As(err, &noPerm):
		return errForbidden(noPerm.Error())
	}
	return errInternal(err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, e *apiError) {
	if e.code != "" {
		writeJSON(w, e.status, map[string]string{
			"error":   e.code,
			"message": e.detail,
		})
		return
	}
	writeJSON(w, e.status, map[string]string{"detail": e.detail})
}
