package settings

import (
	"fmt"
	"strconv"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/storage"
)

// Setting keys
const (
	KeyLockTimeoutSeconds    = "lock_timeout_seconds"
	KeyMinLockTimeoutSeconds = "min_lock_timeout_seconds"
	KeyMaxRevisions          = "max_revisions"
	KeyJWTExpirationHours    = "jwt_expiration_hours"
	KeyJWTSecret             = "jwt_secret"
	KeyLogRetentionDays      = "log_retention_days"
	KeyClientDownloadsPath   = "client_downloads_path"
	KeyLatestClientVersion   = "latest_client_version"
	KeyClientExecutablePath  = "client_executable_path"
	KeyReconcileTombstones   = "reconcile_tombstones_as_absent"
)

// Defaults seeded into the settings bucket on first run
var Defaults = map[string]string{
	KeyLockTimeoutSeconds:    "300",
	KeyMinLockTimeoutSeconds: "300",
	KeyMaxRevisions:          "10",
	KeyJWTExpirationHours:    "24",
	KeyLogRetentionDays:      "30",
	KeyClientDownloadsPath:   "client_downloads",
	KeyLatestClientVersion:   "",
	KeyClientExecutablePath:  "",
	KeyReconcileTombstones:   "true",
}

// Settings provides typed access to the engine tunables stored in the
// metadata index
type Settings struct {
	store storage.Store
}

// New wraps a store with typed setting accessors
func New(store storage.Store) *Settings {
	return &Settings{store: store}
}

// Seed writes every default setting that is not already present
func Seed(store storage.Store) error {
	for key, value := range Defaults {
		if err := store.EnsureSetting(key, value); err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}
	return nil
}

func (s *Settings) get(key, fallback string) string {
	value, err := s.store.GetSetting(key)
	if err != nil || value == "" {
		return fallback
	}
	return value
}

func (s *Settings) getInt(key string) int {
	value := s.get(key, Defaults[key])
	n, err := strconv.Atoi(value)
	if err != nil {
		n, _ = strconv.Atoi(Defaults[key])
	}
	return n
}

// LockTimeout is the exclusive-lock timeout for Pull and Push operations
func (s *Settings) LockTimeout() time.Duration {
	return time.Duration(s.getInt(KeyLockTimeoutSeconds)) * time.Second
}

// MinLockTimeout is the floor of the computed Reconcile timeout
func (s *Settings) MinLockTimeout() time.Duration {
	return time.Duration(s.getInt(KeyMinLockTimeoutSeconds)) * time.Second
}

// MaxRevisions is the per-path revision retention cap
func (s *Settings) MaxRevisions() int {
	return s.getInt(KeyMaxRevisions)
}

// JWTExpiration is the bearer credential lifetime
func (s *Settings) JWTExpiration() time.Duration {
	return time.Duration(s.getInt(KeyJWTExpirationHours)) * time.Hour
}

// JWTSecret returns the token signing secret, empty if not yet generated
func (s *Settings) JWTSecret() string {
	return s.get(KeyJWTSecret, "")
}

// LogRetentionDays is how long rotated server logs are kept
func (s *Settings) LogRetentionDays() int {
	return s.getInt(KeyLogRetentionDays)
}

// ClientDownloadsPath is the directory client executables are served from
func (s *Settings) ClientDownloadsPath() string {
	return s.get(KeyClientDownloadsPath, Defaults[KeyClientDownloadsPath])
}

// LatestClientVersion is the advertised client version string
func (s *Settings) LatestClientVersion() string {
	return s.get(KeyLatestClientVersion, "")
}

// ClientExecutablePath is the stored client executable for that version
func (s *Settings) ClientExecutablePath() string {
	return s.get(KeyClientExecutablePath, "")
}

// ReconcileTombstonesAsAbsent reports whether reconcile planning treats a
// server-side tombstone as "file not present" (the client pushes it back)
func (s *Settings) ReconcileTombstonesAsAbsent() bool {
	return s.get(KeyReconcileTombstones, "true") != "false"
}
