package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/log"
	"github.com/InsereNomen/AlderSync/pkg/storage"
	"github.com/InsereNomen/AlderSync/pkg/types"
)

// ErrAuthFailed is the single externally visible authentication failure.
// Bad password, unknown username, and disabled account all collapse into
// it so responses never reveal whether an account exists; the internal
// reason goes to the log.
var ErrAuthFailed = errors.New("incorrect username or password")

// Authenticator verifies credentials against the metadata index and mints
// bearer tokens
type Authenticator struct {
	store  storage.Store
	issuer *TokenIssuer
}

// NewAuthenticator wires an authenticator to its store and token issuer
func NewAuthenticator(store storage.Store, issuer *TokenIssuer) *Authenticator {
	return &Authenticator{store: store, issuer: issuer}
}

// Login exchanges a username/password for a bearer token. The last-login
// timestamp is stamped on success.
func (a *Authenticator) Login(username, password string) (string, int, error) {
	logger := log.WithComponent("auth")

	user, err := a.store.GetUserByUsername(username)
	if err != nil {
		logger.Warn().Str("user", username).Msg("Login failed: unknown username")
		return "", 0, ErrAuthFailed
	}
	if !user.IsActive {
		logger.Warn().Str("user", username).Msg("Login failed: account disabled")
		return "", 0, ErrAuthFailed
	}
	if !VerifyPassword(password, user.PasswordHash) {
		logger.Warn().Str("user", username).Msg("Login failed: bad password")
		return "", 0, ErrAuthFailed
	}

	perms, err := a.UserPermissions(user)
	if err != nil {
		return "", 0, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	token, expiresIn, err := a.issuer.Issue(user.ID, user.Username, perms)
	if err != nil {
		return "", 0, err
	}

	now := time.Now().UTC()
	user.LastLogin = &now
	if err := a.store.UpdateUser(user); err != nil {
		logger.Error().Err(err).Str("user", username).Msg("Failed to stamp last login")
	}

	logger.Info().Str("user", username).Msg("Login succeeded")
	return token, expiresIn, nil
}

// ChangePassword verifies the current password, then replaces the stored
// verifier. The failure message never reveals account state.
func (a *Authenticator) ChangePassword(userID int64, current, next string) error {
	user, err := a.store.GetUser(userID)
	if err != nil {
		return ErrAuthFailed
	}
	if !VerifyPassword(current, user.PasswordHash) {
		authLogger := log.WithComponent("auth")
		authLogger.Warn().Str("user", user.Username).Msg("Password change failed: bad current password")
		return ErrAuthFailed
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := a.store.UpdateUser(user); err != nil {
		return fmt.Errorf("failed to store new password: %w", err)
	}

	authLogger := log.WithComponent("auth")
	authLogger.Info().Str("user", user.Username).Msg("Password changed")
	return nil
}

// UserPermissions resolves a user's permission names through their role
func (a *Authenticator) UserPermissions(user *types.User) ([]string, error) {
	if user.RoleID == 0 {
		return nil, nil
	}
	role, err := a.store.GetRole(user.RoleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return role.Permissions, nil
}

// HasPermission is the capability predicate gating operation types. The
// admin permission implies everything.
func (a *Authenticator) HasPermission(user *types.User, permission string) bool {
	if permission == "" {
		return true
	}
	perms, err := a.UserPermissions(user)
	if err != nil {
		return false
	}
	for _, p := range perms {
		if p == types.PermissionAdmin || p == permission {
			return true
		}
	}
	return false
}
