package api

import (
	"net/http"
	"time"
)

type lockStatus struct {
	Locked           bool   `json:"locked"`
	User             string `json:"user,omitempty"`
	Operation        string `json:"operation,omitempty"`
	StartedAgoSecond int    `json:"started_ago_seconds,omitempty"`
}

func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	current := s.txns.CurrentLock()
	if current == nil {
		writeJSON(w, http.StatusOK, lockStatus{Locked: false})
		return
	}
	writeJSON(w, http.StatusOK, lockStatus{
		Locked:           true,
		User:             current.Username,
		Operation:        string(current.Operation),
		StartedAgoSecond: current.ElapsedSeconds(time.Now()),
	})
}

func (s *Server) handleLastOperation(w http.ResponseWriter, r *http.Request) {
	last, err := s.store.GetLastOperation()
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}
	if last == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available":      true,
		"username":       last.Username,
		"operation_type": last.OperationType,
		"service_type":   last.Service,
		"timestamp_utc":  last.TimestampUTC,
		"file_count":     last.FileCount,
	})
}
