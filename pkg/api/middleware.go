package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/auth"
	"github.com/InsereNomen/AlderSync/pkg/metrics"
	"github.com/InsereNomen/AlderSync/pkg/types"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	sessionKey   contextKey = "admin_session"
)

// principal returns the authenticated identity the bearer middleware
// attached to the request
func principal(r *http.Request) *auth.Principal {
	p, _ := r.Context().Value(principalKey).(*auth.Principal)
	return p
}

// adminSession returns the admin session the cookie middleware attached
func adminSession(r *http.Request) *auth.Session {
	s, _ := r.Context().Value(sessionKey).(*auth.Session)
	return s
}

// requireAuth resolves the bearer credential into a typed principal.
// Handlers never see raw tokens. Failures are uniform 401s; the internal
// reason is logged by the auth layer.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, errUnauthorized("not authenticated"))
			return
		}

		p, err := s.issuer.Verify(token)
		if err != nil {
			writeError(w, errUnauthorized("could not validate credentials"))
			return
		}

		// A disabled account invalidates outstanding tokens immediately
		user, err := s.store.GetUser(p.UserID)
		if err != nil || !user.IsActive {
			writeError(w, errUnauthorized("could not validate credentials"))
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdminSession resolves the session cookie into an admin session
// and verifies the admin permission
func (s *Server) requireAdminSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(auth.SessionCookieName)
		if err != nil {
			writeError(w, errUnauthorized("not authenticated"))
			return
		}
		session := s.sessions.Get(cookie.Value)
		if session == nil {
			writeError(w, errUnauthorized("session expired"))
			return
		}

		user, err := s.store.GetUser(session.UserID)
		if err != nil || !user.IsActive {
			writeError(w, errUnauthorized("not authenticated"))
			return
		}
		if !s.auth.HasPermission(user, types.PermissionAdmin) {
			writeError(w, errForbidden("missing permission: admin"))
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// instrument logs every request and feeds the API metrics
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("Request handled")
	})
}
