package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleActiveTransactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.txns.ActiveTransactions())
}

func (s *Server) handleCancelTransaction(w http.ResponseWriter, r *http.Request) {
	session := adminSession(r)
	id := chi.URLParam(r, "id")

	if err := s.txns.Cancel(id); err != nil {
		writeError(w, errNotFound(err.Error()))
		return
	}

	s.logger.Info().
		Str("transaction_id", id).
		Str("admin", session.Username).
		Msg("Transaction cancelled by admin")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Operation cancelled successfully",
	})
}
