package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/settings"
	"github.com/InsereNomen/AlderSync/pkg/storage"
	"github.com/InsereNomen/AlderSync/pkg/types"
)

// defaultRoles are seeded on every startup; missing roles are created,
// existing ones are left alone
var defaultRoles = []types.Role{
	{
		Name:        "Admin",
		Description: "Full administrative access",
		IsSystem:    true,
		Permissions: []string{
			types.PermissionAdmin, types.PermissionPush, types.PermissionPull,
			types.PermissionReconcile, types.PermissionViewFiles,
		},
	},
	{
		Name:        "Standard User",
		Description: "Can sync files but cannot manage server",
		IsSystem:    true,
		Permissions: []string{
			types.PermissionPush, types.PermissionPull,
			types.PermissionReconcile, types.PermissionViewFiles,
		},
	},
	{
		Name:        "Read-Only",
		Description: "Can only view and download files",
		IsSystem:    true,
		Permissions: []string{types.PermissionPull, types.PermissionViewFiles},
	},
}

// Bootstrap seeds default roles and settings, generates the token signing
// secret on first run, and creates the initial admin account when the user
// table is empty. Returns the generated admin password on first run so the
// operator can record it, empty otherwise.
func Bootstrap(store storage.Store) (string, error) {
	for _, role := range defaultRoles {
		if _, err := store.GetRoleByName(role.Name); err == nil {
			continue
		}
		r := role
		if err := store.CreateRole(&r); err != nil {
			return "", fmt.Errorf("failed to create role %s: %w", role.Name, err)
		}
	}

	if err := settings.Seed(store); err != nil {
		return "", err
	}

	// The signing secret persists across restarts so issued tokens stay
	// valid through a server bounce
	if secret, err := store.GetSetting(settings.KeyJWTSecret); err != nil || secret == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("failed to generate signing secret: %w", err)
		}
		if err := store.SetSetting(settings.KeyJWTSecret, hex.EncodeToString(raw)); err != nil {
			return "", fmt.Errorf("failed to store signing secret: %w", err)
		}
	}

	users, err := store.ListUsers()
	if err != nil {
		return "", err
	}
	if len(users) > 0 {
		return "", nil
	}

	adminRole, err := store.GetRoleByName("Admin")
	if err != nil {
		return "", err
	}

	password, err := GeneratePassword(12)
	if err != nil {
		return "", err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}

	admin := &types.User{
		Username:     "admin",
		PasswordHash: hash,
		RoleID:       adminRole.ID,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.CreateUser(admin); err != nil {
		return "", fmt.Errorf("failed to create admin user: %w", err)
	}
	return password, nil
}
