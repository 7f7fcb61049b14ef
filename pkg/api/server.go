package api

import (
	"context"
	"net/http"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/auth"
	"github.com/InsereNomen/AlderSync/pkg/blob"
	"github.com/InsereNomen/AlderSync/pkg/log"
	"github.com/InsereNomen/AlderSync/pkg/metrics"
	"github.com/InsereNomen/AlderSync/pkg/settings"
	"github.com/InsereNomen/AlderSync/pkg/storage"
	"github.com/InsereNomen/AlderSync/pkg/txn"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Server is the HTTP surface of the sync engine. All engine state is
// injected; the server holds no mutable state of its own.
type Server struct {
	store    storage.Store
	blobs    *blob.Store
	txns     *txn.Manager
	auth     *auth.Authenticator
	issuer   *auth.TokenIssuer
	sessions *auth.SessionManager
	settings *settings.Settings
	logger   zerolog.Logger

	http *http.Server
}

// NewServer wires the engine components into a router
func NewServer(
	store storage.Store,
	blobs *blob.Store,
	txns *txn.Manager,
	authenticator *auth.Authenticator,
	issuer *auth.TokenIssuer,
	sessions *auth.SessionManager,
	cfg *settings.Settings,
) *Server {
	s := &Server{
		store:    store,
		blobs:    blobs,
		txns:     txns,
		auth:     authenticator,
		issuer:   issuer,
		sessions: sessions,
		settings: cfg,
		logger:   log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(s.instrument)

	// Unauthenticated: login, version check, liveness, metrics
	r.Post("/auth/login", s.handleLogin)
	r.Get("/client/version", s.handleClientVersion)
	r.Get("/client/download", s.handleClientDownload)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Bearer-authenticated sync surface
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post("/user/change_password", s.handleChangePassword)

		r.Get("/files/list", s.handleListFiles)
		r.Get("/files/download", s.handleDownloadFile)
		r.Get("/files/download_revision", s.handleDownloadRevision)
		r.Get("/files/revisions", s.handleRevisionHistory)
		r.Post("/files/restore_revision", s.handleRestoreRevision)

		r.Post("/transaction/begin", s.handleTransactionBegin)
		r.Post("/transaction/{id}/commit", s.handleTransactionCommit)
		r.Post("/transaction/{id}/rollback", s.handleTransactionRollback)
		r.Get("/transaction/{id}/status", s.handleTransactionStatus)
		r.Post("/transaction/{id}/upload_file", s.handleTransactionUpload)
		r.Get("/transaction/{id}/download_file", s.handleTransactionDownload)
		r.Post("/transaction/{id}/delete_file", s.handleTransactionDelete)

		r.Get("/status/lock", s.handleLockStatus)
		r.Get("/status/last_operation", s.handleLastOperation)
	})

	// Admin control plane behind the session cookie
	r.Post("/admin/login", s.handleAdminLogin)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAdminSession)

		r.Post("/admin/logout", s.handleAdminLogout)
		r.Get("/admin/operations/active", s.handleActiveTransactions)
		r.Post("/admin/operations/{id}/cancel", s.handleCancelTransaction)
	})

	s.http = &http.Server{Handler: r}
	return s
}

// Handler exposes the router, used directly by tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins serving on the given address and blocks until shutdown
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("API listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
