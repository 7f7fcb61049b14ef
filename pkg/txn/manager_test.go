package txn

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/InsereNomen/AlderSync/pkg/auth"
	"github.com/InsereNomen/AlderSync/pkg/blob"
	"github.com/InsereNomen/AlderSync/pkg/lock"
	"github.com/InsereNomen/AlderSync/pkg/log"
	"github.com/InsereNomen/AlderSync/pkg/settings"
	"github.com/InsereNomen/AlderSync/pkg/storage"
	"github.com/InsereNomen/AlderSync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

type testEngine struct {
	store       storage.Store
	blobs       *blob.Store
	locks       *lock.Manager
	settings    *settings.Settings
	mgr         *Manager
	stagingRoot string
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, settings.Seed(store))

	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)

	locks := lock.NewManager()
	cfg := settings.New(store)
	stagingRoot := t.TempDir()

	mgr, err := NewManager(store, blobs, locks, cfg, stagingRoot)
	require.NoError(t, err)

	return &testEngine{
		store:       store,
		blobs:       blobs,
		locks:       locks,
		settings:    cfg,
		mgr:         mgr,
		stagingRoot: stagingRoot,
	}
}

func alice() *auth.Principal {
	return &auth.Principal{
		UserID:   1,
		Username: "alice",
		Permissions: []string{
			types.PermissionPush, types.PermissionPull,
			types.PermissionReconcile, types.PermissionViewFiles,
		},
	}
}

func bob() *auth.Principal {
	return &auth.Principal{
		UserID:      2,
		Username:    "bob",
		Permissions: []string{types.PermissionPull},
	}
}

func sha(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func (e *testEngine) upload(t *testing.T, id string, userID int64, path, content string) string {
	t.Helper()
	hash, size, err := e.mgr.Upload(id, userID, path, strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), size)
	return hash
}

func (e *testEngine) pushFile(t *testing.T, path, content string) {
	t.Helper()
	begin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationPush,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)
	e.upload(t, begin.TransactionID, 1, path, content)
	_, err = e.mgr.Commit(begin.TransactionID, 1)
	require.NoError(t, err)
}

func (e *testEngine) readCurrent(t *testing.T, path string) string {
	t.Helper()
	cur, err := e.store.CurrentRevision(types.ServiceContemporary, path)
	require.NoError(t, err)
	rc, err := e.blobs.Open(types.ServiceContemporary, path, cur.Revision)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestPushHappyPath(t *testing.T) {
	e := newTestEngine(t)

	begin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationPush,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)
	assert.True(t, begin.LockAcquired)
	assert.Equal(t, 300, begin.TimeoutSeconds)

	hash1 := e.upload(t, begin.TransactionID, 1, "notes.txt", "ten bytes!")
	assert.Equal(t, sha("ten bytes!"), hash1)
	e.upload(t, begin.TransactionID, 1, "songs/sermon.pro", "slide content")

	result, err := e.mgr.Commit(begin.TransactionID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesTotal)
	assert.Nil(t, result.FilesPulled)

	// Both files at revision 0, content intact
	for path, content := range map[string]string{
		"notes.txt":        "ten bytes!",
		"songs/sermon.pro": "slide content",
	} {
		cur, err := e.store.CurrentRevision(types.ServiceContemporary, path)
		require.NoError(t, err)
		assert.Equal(t, 0, cur.Revision)
		assert.Equal(t, sha(content), cur.Hash)
		assert.Equal(t, content, e.readCurrent(t, path))
	}

	// Lock released, staging destroyed, operation completed
	assert.Nil(t, e.locks.Current())
	assert.NoDirExists(t, filepath.Join(e.stagingRoot, begin.TransactionID))

	op, err := e.store.GetOperation(1)
	require.NoError(t, err)
	assert.Equal(t, types.OperationCompleted, op.Status)
	require.NotNil(t, op.CompletedAtUTC)

	last, err := e.store.GetLastOperation()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "alice", last.Username)
	assert.Equal(t, 2, last.FileCount)
}

func TestRepeatedPushesIncrementRevision(t *testing.T) {
	e := newTestEngine(t)

	e.pushFile(t, "notes.txt", "version one")
	e.pushFile(t, "notes.txt", "version two")

	cur, err := e.store.CurrentRevision(types.ServiceContemporary, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Revision)
	assert.Equal(t, "version two", e.readCurrent(t, "notes.txt"))

	// Old revision still readable
	rc, err := e.blobs.Open(types.ServiceContemporary, "notes.txt", 0)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "version one", string(data))
}

func TestLockConflict(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationPush,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)

	_, err = e.mgr.Begin(bob(), BeginRequest{
		Operation: types.OperationPull,
		Service:   types.ServiceContemporary,
	})
	require.Error(t, err)

	var busy *LockBusyError
	require.ErrorAs(t, err, &busy)
	assert.Contains(t, busy.Reason, "alice")
	assert.Contains(t, busy.Reason, "Push")
}

func TestPermissionGating(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.mgr.Begin(bob(), BeginRequest{
		Operation: types.OperationPush,
		Service:   types.ServiceContemporary,
	})
	var noPerm *PermissionError
	require.ErrorAs(t, err, &noPerm)
	assert.Equal(t, types.PermissionPush, noPerm.Permission)

	// Pull needs authentication only
	begin, err := e.mgr.Begin(bob(), BeginRequest{
		Operation: types.OperationPull,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)
	require.NoError(t, e.mgr.Rollback(begin.TransactionID, 2))
}

func TestRollbackIsTransparent(t *testing.T) {
	e := newTestEngine(t)

	begin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationPush,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)
	e.upload(t, begin.TransactionID, 1, "discard.txt", "never committed")

	require.NoError(t, e.mgr.Rollback(begin.TransactionID, 1))

	// No revision rows, no blobs, no staging, lock free
	_, err = e.store.CurrentRevision(types.ServiceContemporary, "discard.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoDirExists(t, filepath.Join(e.stagingRoot, begin.TransactionID))
	assert.Nil(t, e.locks.Current())

	op, err := e.store.GetOperation(1)
	require.NoError(t, err)
	assert.Equal(t, types.OperationRolledBack, op.Status)

	// The transaction id no longer resolves
	assert.ErrorIs(t, e.mgr.Status(begin.TransactionID, 1), ErrNotFound)
}

func TestAdminCancel(t *testing.T) {
	e := newTestEngine(t)

	begin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationReconcile,
		Service:   types.ServiceContemporary,
		ClientFiles: map[string]types.ClientFileInfo{
			"song.txt": {ModifiedUTC: time.Now().UTC(), Size: 4, Hash: "h"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, e.mgr.Cancel(begin.TransactionID))

	// The owner's next calls see the distinguished cancelled error
	assert.ErrorIs(t, e.mgr.Status(begin.TransactionID, 1), ErrCancelled)
	_, _, err = e.mgr.Upload(begin.TransactionID, 1, "song.txt", strings.NewReader("data"))
	assert.ErrorIs(t, err, ErrCancelled)
	_, err = e.mgr.Commit(begin.TransactionID, 1)
	assert.ErrorIs(t, err, ErrCancelled)

	// Staging gone, lock free, record marked
	assert.NoDirExists(t, filepath.Join(e.stagingRoot, begin.TransactionID))
	assert.Nil(t, e.locks.Current())
	op, _ := e.store.GetOperation(1)
	assert.Equal(t, types.OperationCancelledByAdmin, op.Status)

	// Another operator can begin immediately
	next, err := e.mgr.Begin(bob(), BeginRequest{
		Operation: types.OperationPull,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)
	require.NoError(t, e.mgr.Rollback(next.TransactionID, 2))

	// Cancelling twice fails: the transaction is gone
	assert.Error(t, e.mgr.Cancel(begin.TransactionID))
}

func TestOwnershipEnforced(t *testing.T) {
	e := newTestEngine(t)

	begin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationPush,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)

	_, err = e.mgr.Commit(begin.TransactionID, 2)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.ErrorIs(t, e.mgr.Status(begin.TransactionID, 2), ErrNotOwner)
}

func TestDeleteCreatesArchiveAndTombstone(t *testing.T) {
	e := newTestEngine(t)
	e.pushFile(t, "gone.txt", "to be deleted")

	begin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationPush,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)
	require.NoError(t, e.mgr.Delete(begin.TransactionID, 1, "gone.txt"))
	result, err := e.mgr.Commit(begin.TransactionID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesTotal)

	history, err := e.store.RevisionHistory(types.ServiceContemporary, "gone.txt")
	require.NoError(t, err)
	require.Len(t, history, 3)

	// Newest first: tombstone, archive snapshot, original
	assert.True(t, history[0].IsDeleted)
	assert.Equal(t, 2, history[0].Revision)
	assert.False(t, history[1].IsDeleted)
	assert.Equal(t, sha("to be deleted"), history[1].Hash)

	// Deleted from the client's perspective
	inventory, err := e.store.CurrentInventory(types.ServiceContemporary)
	require.NoError(t, err)
	assert.Empty(t, inventory)

	// But recoverable: the pre-deletion snapshot blob exists
	rc, err := e.blobs.Open(types.ServiceContemporary, "gone.txt", 1)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "to be deleted", string(data))
}

func TestPruneExcessRevisions(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.store.SetSetting(settings.KeyMaxRevisions, "3"))

	for _, v := range []string{"v0", "v1", "v2", "v3"} {
		e.pushFile(t, "slide.pro", v)
	}

	history, err := e.store.RevisionHistory(types.ServiceContemporary, "slide.pro")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].Revision)
	assert.Equal(t, 1, history[2].Revision)

	// Revision 0's blob is unlinked, current revision intact
	_, err = e.blobs.Open(types.ServiceContemporary, "slide.pro", 0)
	assert.Error(t, err)
	assert.Equal(t, "v3", e.readCurrent(t, "slide.pro"))
}

func TestRestoreRevision(t *testing.T) {
	e := newTestEngine(t)
	for _, v := range []string{"rev zero", "rev one", "rev two"} {
		e.pushFile(t, "slide.pro", v)
	}

	restored, err := e.mgr.RestoreRevision(1, types.ServiceContemporary, "slide.pro", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, restored.Revision)

	history, err := e.store.RevisionHistory(types.ServiceContemporary, "slide.pro")
	require.NoError(t, err)
	require.Len(t, history, 5)

	// Revision 3 archives the pre-restore current, revision 4 is the
	// restored content, now current
	assert.Equal(t, sha("rev two"), history[1].Hash)
	assert.Equal(t, sha("rev zero"), history[0].Hash)
	assert.Equal(t, "rev zero", e.readCurrent(t, "slide.pro"))
}

func TestRestoreIdempotence(t *testing.T) {
	e := newTestEngine(t)
	e.pushFile(t, "a.txt", "old")
	e.pushFile(t, "a.txt", "new")

	_, err := e.mgr.RestoreRevision(1, types.ServiceContemporary, "a.txt", 0)
	require.NoError(t, err)
	_, err = e.mgr.RestoreRevision(1, types.ServiceContemporary, "a.txt", 0)
	require.NoError(t, err)

	assert.Equal(t, "old", e.readCurrent(t, "a.txt"))

	// Nothing lost: both the original new content and old content exist
	history, _ := e.store.RevisionHistory(types.ServiceContemporary, "a.txt")
	assert.Len(t, history, 6)
}

func TestRestoreRejections(t *testing.T) {
	e := newTestEngine(t)
	e.pushFile(t, "a.txt", "content")

	_, err := e.mgr.RestoreRevision(1, types.ServiceContemporary, "a.txt", 0)
	assert.ErrorIs(t, err, ErrRestoreCurrent)

	_, err = e.mgr.RestoreRevision(1, types.ServiceContemporary, "missing.txt", 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = e.mgr.RestoreRevision(1, types.ServiceContemporary, "a.txt", 7)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReconcileBegin(t *testing.T) {
	e := newTestEngine(t)
	e.pushFile(t, "song.txt", "server version")
	e.pushFile(t, "stale.txt", "server newer")

	serverTime := time.Now().UTC()

	// Client: song.txt is newer locally, stale.txt older, fresh.txt new
	begin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationReconcile,
		Service:   types.ServiceContemporary,
		ClientFiles: map[string]types.ClientFileInfo{
			"song.txt":  {ModifiedUTC: serverTime.Add(time.Hour), Size: 99, Hash: "different"},
			"stale.txt": {ModifiedUTC: serverTime.Add(-time.Hour), Size: 5, Hash: "old"},
			"fresh.txt": {ModifiedUTC: serverTime, Size: 3, Hash: "new"},
		},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"song.txt", "fresh.txt"}, begin.FilesToPush)
	assert.Equal(t, []string{"stale.txt"}, begin.FilesToPull)
	assert.GreaterOrEqual(t, begin.TimeoutSeconds, 300)

	// Commit carries the reconcile counts
	e.upload(t, begin.TransactionID, 1, "song.txt", "client version")
	result, err := e.mgr.Commit(begin.TransactionID, 1)
	require.NoError(t, err)
	require.NotNil(t, result.FilesPulled)
	require.NotNil(t, result.FilesPushed)
	assert.Equal(t, 1, *result.FilesPulled)
	assert.Equal(t, 2, *result.FilesPushed)
}

func TestReconcileRequiresInventory(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationReconcile,
		Service:   types.ServiceContemporary,
	})
	assert.ErrorIs(t, err, ErrClientInventoryRequired)
	assert.Nil(t, e.locks.Current())
}

func TestPullBeginReturnsPlan(t *testing.T) {
	e := newTestEngine(t)
	e.pushFile(t, "a.txt", "one")
	e.pushFile(t, "b.txt", "two")

	begin, err := e.mgr.Begin(bob(), BeginRequest{
		Operation: types.OperationPull,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, begin.FilesToPull)

	// Download within the transaction streams the current revision
	rc, size, err := e.mgr.Download(begin.TransactionID, 2, "a.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "one", string(data))
	assert.Equal(t, int64(3), size)

	require.NoError(t, e.mgr.Rollback(begin.TransactionID, 2))
}

func TestIgnorePatternsFilterPlans(t *testing.T) {
	e := newTestEngine(t)
	e.pushFile(t, "keep.txt", "keep")
	e.pushFile(t, "scratch.tmp", "junk")
	require.NoError(t, e.store.AddIgnorePattern("*.tmp"))

	begin, err := e.mgr.Begin(bob(), BeginRequest{
		Operation: types.OperationPull,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt"}, begin.FilesToPull)
	require.NoError(t, e.mgr.Rollback(begin.TransactionID, 2))
}

func TestLockExpirationKillsTransaction(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.store.SetSetting(settings.KeyLockTimeoutSeconds, "0"))

	begin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationPush,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)

	// Timeout zero expires on the next observation; the transaction id
	// stops resolving and staging is reclaimed
	assert.ErrorIs(t, e.mgr.Status(begin.TransactionID, 1), ErrNotFound)
	assert.NoDirExists(t, filepath.Join(e.stagingRoot, begin.TransactionID))

	op, _ := e.store.GetOperation(1)
	assert.Equal(t, types.OperationRolledBack, op.Status)
}

func TestSweepExpired(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.store.SetSetting(settings.KeyLockTimeoutSeconds, "0"))

	begin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationPush,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)

	e.mgr.SweepExpired()

	assert.Empty(t, e.mgr.ActiveTransactions())
	assert.NoDirExists(t, filepath.Join(e.stagingRoot, begin.TransactionID))
}

func TestSweepDoesNotReleaseSuccessorLock(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.store.SetSetting(settings.KeyLockTimeoutSeconds, "0"))

	aliceBegin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationPush,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)

	// Alice's lock expires with her transaction still registered; bob
	// acquires it for his own operation
	require.NoError(t, e.store.SetSetting(settings.KeyLockTimeoutSeconds, "300"))
	bobBegin, err := e.mgr.Begin(bob(), BeginRequest{
		Operation: types.OperationPull,
		Service:   types.ServiceContemporary,
	})
	require.NoError(t, err)

	e.mgr.SweepExpired()

	// Sweeping alice's dead transaction must not release bob's lock
	assert.ErrorIs(t, e.mgr.Status(aliceBegin.TransactionID, 1), ErrNotFound)
	require.NoError(t, e.mgr.Status(bobBegin.TransactionID, 2))

	current := e.locks.Current()
	require.NotNil(t, current)
	assert.Equal(t, "bob", current.Username)
	assert.Len(t, e.mgr.ActiveTransactions(), 1)

	require.NoError(t, e.mgr.Rollback(bobBegin.TransactionID, 2))
}

func TestCleanStagingRoot(t *testing.T) {
	e := newTestEngine(t)

	stray := filepath.Join(e.stagingRoot, "deadbeef-0000")
	require.NoError(t, os.MkdirAll(stray, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stray, "junk.bin"), []byte("x"), 0644))

	require.NoError(t, e.mgr.CleanStagingRoot())
	assert.NoDirExists(t, stray)
}

func TestActiveTransactionsListing(t *testing.T) {
	e := newTestEngine(t)

	begin, err := e.mgr.Begin(alice(), BeginRequest{
		Operation: types.OperationReconcile,
		Service:   types.ServiceTraditional,
		ClientFiles: map[string]types.ClientFileInfo{
			"a.txt": {ModifiedUTC: time.Now().UTC(), Size: 1, Hash: "h"},
		},
	})
	require.NoError(t, err)

	infos := e.mgr.ActiveTransactions()
	require.Len(t, infos, 1)
	assert.Equal(t, begin.TransactionID, infos[0].TransactionID)
	assert.Equal(t, "alice", infos[0].Username)
	assert.Equal(t, types.OperationReconcile, infos[0].OperationType)
	require.NotNil(t, infos[0].FilesToPush)
	assert.Equal(t, 1, *infos[0].FilesToPush)
}
