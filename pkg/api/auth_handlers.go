package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/InsereNomen/AlderSync/pkg/auth"
	"github.com/InsereNomen/AlderSync/pkg/types"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in_seconds"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, errBadRequest("username and password are required"))
		return
	}

	token, expiresIn, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, fromEngine(err))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresIn: expiresIn})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type changePasswordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid request body"))
		return
	}
	if req.NewPassword == "" {
		writeError(w, errBadRequest("new password is required"))
		return
	}

	if err := s.auth.ChangePassword(p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		// The response shape never reveals whether the account exists
		if errors.Is(err, auth.ErrAuthFailed) {
			writeJSON(w, http.StatusOK, changePasswordResponse{
				Success: false,
				Message: "Current password is incorrect",
			})
			return
		}
		writeError(w, fromEngine(err))
		return
	}
	writeJSON(w, http.StatusOK, changePasswordResponse{
		Success: true,
		Message: "Password changed successfully",
	})
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("invalid request body"))
		return
	}

	user, err := s.store.GetUserByUsername(req.Username)
	if err != nil || !user.IsActive || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		writeError(w, errUnauthorized("incorrect username or password"))
		return
	}
	if !s.auth.HasPermission(user, types.PermissionAdmin) {
		writeError(w, errForbidden("missing permission: admin"))
		return
	}

	session, err := s.sessions.Create(user.ID, user.Username)
	if err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"username": user.Username,
	})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	session := adminSession(r)
	s.sessions.Delete(session.ID)

	http.SetCookie(w, &http.Cookie{
		Name:   auth.SessionCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
