package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/dap-relay/adapter"
)

func testPersisted(id string) PersistedSession {
	now := time.Now().UTC().Truncate(time.Second)
	return PersistedSession{
		ID:          id,
		Name:        "test-session",
		ProjectRoot: "/tmp/proj",
		State:       "paused",
		Language:    "python",
		CreatedAt:   now.Add(-time.Hour),
		LastActivity: now,
		Breakpoints: map[string][]adapter.SourceBreakpoint{
			"/tmp/proj/app.py": {{Line: 4, Enabled: true}},
		},
		Watches:        []string{"total", "i"},
		SavedAt:        now,
		ServerShutdown: true,
	}
}

// TestSessionStoreRoundTrip verifies save/load equality including
// timestamps.
func TestSessionStoreRoundTrip(t *testing.T) {
	store := NewSessionStore(t.TempDir())

	in := testPersisted("sess_11112222")
	require.NoError(t, store.Save(in))

	out, err := store.Load("sess_11112222")
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, in.ID, out.ID)
	require.Equal(t, in.Breakpoints, out.Breakpoints)
	require.Equal(t, in.Watches, out.Watches)
	require.True(t, in.SavedAt.Equal(out.SavedAt))
	require.True(t, out.ServerShutdown)
}

// TestSessionStoreLoadMissing verifies a missing id loads as nil.
func TestSessionStoreLoadMissing(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	out, err := store.Load("sess_missing1")
	require.NoError(t, err)
	require.Nil(t, out)
}

// TestSessionStoreDelete verifies delete reports existence and is
// idempotent.
func TestSessionStoreDelete(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	require.NoError(t, store.Save(testPersisted("sess_aaaa0000")))

	require.True(t, store.Delete("sess_aaaa0000"))
	require.False(t, store.Delete("sess_aaaa0000"))
}

// TestSessionStoreListSkipsPoisoned verifies one corrupt file cannot
// prevent the others from listing.
func TestSessionStoreListSkipsPoisoned(t *testing.T) {
	baseDir := t.TempDir()
	store := NewSessionStore(baseDir)

	require.NoError(t, store.Save(testPersisted("sess_good0001")))
	require.NoError(t, store.Save(testPersisted("sess_good0002")))
	require.NoError(t, os.WriteFile(
		filepath.Join(baseDir, "sess_poison00.json"),
		[]byte("{not json"), 0o644))

	sessions := store.ListAll()
	require.Len(t, sessions, 2)
}

// TestSessionStoreCleanupOld verifies snapshots past the retention window
// are removed and fresh ones kept.
func TestSessionStoreCleanupOld(t *testing.T) {
	store := NewSessionStore(t.TempDir())

	old := testPersisted("sess_old00000")
	old.SavedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.Save(old))
	require.NoError(t, store.Save(testPersisted("sess_fresh000")))

	cleaned := store.CleanupOld(24 * time.Hour)
	require.Equal(t, 1, cleaned)

	sessions := store.ListAll()
	require.Len(t, sessions, 1)
	require.Equal(t, "sess_fresh000", sessions[0].ID)
}
