package lock

import (
	"testing"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/log"
	"github.com/InsereNomen/AlderSync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// fakeClock lets tests move time forward deterministically
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	m := NewManager()
	m.now = clock.Now
	return m, clock
}

func TestAcquireAndRelease(t *testing.T) {
	m, _ := newTestManager()

	granted, reason := m.Acquire(1, "alice", types.OperationPush, 5*time.Minute)
	require.True(t, granted)
	assert.Empty(t, reason)

	current := m.Current()
	require.NotNil(t, current)
	assert.Equal(t, "alice", current.Username)
	assert.Equal(t, types.OperationPush, current.Operation)

	m.Release()
	assert.Nil(t, m.Current())
}

func TestAcquireDeniedWhileHeld(t *testing.T) {
	m, clock := newTestManager()

	granted, _ := m.Acquire(1, "alice", types.OperationPush, 5*time.Minute)
	require.True(t, granted)

	clock.Advance(42 * time.Second)

	granted, reason := m.Acquire(2, "bob", types.OperationPull, 5*time.Minute)
	assert.False(t, granted)
	assert.Contains(t, reason, "alice")
	assert.Contains(t, reason, "Push")
	assert.Contains(t, reason, "42 seconds")
}

func TestLockExpires(t *testing.T) {
	m, clock := newTestManager()

	granted, _ := m.Acquire(1, "alice", types.OperationPush, 5*time.Minute)
	require.True(t, granted)

	clock.Advance(5 * time.Minute)

	// Observation clears the expired lock
	assert.Nil(t, m.Current())

	granted, _ = m.Acquire(2, "bob", types.OperationPull, 5*time.Minute)
	assert.True(t, granted)
}

func TestHeldBy(t *testing.T) {
	m, clock := newTestManager()

	m.Acquire(1, "alice", types.OperationPush, time.Minute)
	assert.True(t, m.HeldBy(1))
	assert.False(t, m.HeldBy(2))

	clock.Advance(2 * time.Minute)
	assert.False(t, m.HeldBy(1))
}

func TestReleaseIfHeldBy(t *testing.T) {
	m, clock := newTestManager()

	m.Acquire(1, "alice", types.OperationPush, time.Minute)

	// A non-holder cannot release
	m.ReleaseIfHeldBy(2)
	require.NotNil(t, m.Current())

	// After expiry the lock passes to bob; releasing on alice's behalf
	// must not touch bob's lock
	clock.Advance(2 * time.Minute)
	granted, _ := m.Acquire(2, "bob", types.OperationPull, 5*time.Minute)
	require.True(t, granted)

	m.ReleaseIfHeldBy(1)
	current := m.Current()
	require.NotNil(t, current)
	assert.Equal(t, "bob", current.Username)

	m.ReleaseIfHeldBy(2)
	assert.Nil(t, m.Current())
}

func TestReconcileTimeout(t *testing.T) {
	min := 5 * time.Minute

	tests := []struct {
		name       string
		totalBytes int64
		fileCount  int
		want       time.Duration
	}{
		{name: "small plan floors at minimum", totalBytes: 1024, fileCount: 2, want: min},
		{name: "large plan scales", totalBytes: 400 * 1024 * 1024, fileCount: 100, want: 600 * time.Second},
		{name: "file count contributes", totalBytes: 0, fileCount: 500, want: 1000 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReconcileTimeout(tt.totalBytes, tt.fileCount, min))
		})
	}
}
