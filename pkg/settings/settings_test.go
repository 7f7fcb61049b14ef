package settings

import (
	"testing"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSettings(t *testing.T) (*Settings, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func TestDefaultsWhenUnset(t *testing.T) {
	s, _ := newTestSettings(t)

	assert.Equal(t, 300*time.Second, s.LockTimeout())
	assert.Equal(t, 300*time.Second, s.MinLockTimeout())
	assert.Equal(t, 10, s.MaxRevisions())
	assert.Equal(t, 24*time.Hour, s.JWTExpiration())
	assert.Equal(t, 30, s.LogRetentionDays())
	assert.Equal(t, "client_downloads", s.ClientDownloadsPath())
	assert.True(t, s.ReconcileTombstonesAsAbsent())
}

func TestStoredValuesWin(t *testing.T) {
	s, store := newTestSettings(t)

	require.NoError(t, store.SetSetting(KeyLockTimeoutSeconds, "60"))
	require.NoError(t, store.SetSetting(KeyMaxRevisions, "3"))
	require.NoError(t, store.SetSetting(KeyReconcileTombstones, "false"))

	assert.Equal(t, time.Minute, s.LockTimeout())
	assert.Equal(t, 3, s.MaxRevisions())
	assert.False(t, s.ReconcileTombstonesAsAbsent())
}

func TestMalformedValueFallsBack(t *testing.T) {
	s, store := newTestSettings(t)

	require.NoError(t, store.SetSetting(KeyMaxRevisions, "lots"))
	assert.Equal(t, 10, s.MaxRevisions())
}

func TestSeed(t *testing.T) {
	s, store := newTestSettings(t)

	require.NoError(t, store.SetSetting(KeyMaxRevisions, "5"))
	require.NoError(t, Seed(store))

	// Seeding fills gaps without clobbering operator changes
	assert.Equal(t, 5, s.MaxRevisions())
	v, err := store.GetSetting(KeyLockTimeoutSeconds)
	require.NoError(t, err)
	assert.Equal(t, "300", v)
}
