package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/dap-relay/adapter"
	"github.com/roasbeef/dap-relay/adapter/adaptertest"
	"github.com/roasbeef/dap-relay/errdefs"
	"github.com/roasbeef/dap-relay/persist"
)

// newTestManager builds a manager over temp-dir stores with fake adapter
// initialization.
func newTestManager(t *testing.T, dataDir string, maxSessions int) *Manager {
	m := NewManager(ManagerOptions{
		MaxSessions:     maxSessions,
		Limits:          testLimits(),
		BreakpointStore: persist.NewBreakpointStore(filepath.Join(dataDir, "breakpoints")),
		SessionStore:    persist.NewSessionStore(filepath.Join(dataDir, "sessions")),
	})
	m.initSession = func(ctx context.Context, s *Session) error {
		driver := adaptertest.New(adapter.Options{
			SessionID: s.ID,
			OnOutput:  s.handleOutput,
			OnEvent:   s.handleEvent,
		})
		if _, err := driver.Initialize(ctx); err != nil {
			return err
		}
		s.AttachDriver(driver)
		return nil
	}
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)
	return m
}

// TestManagerAdmission verifies the session cap and that terminating one
// session frees a slot.
func TestManagerAdmission(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, t.TempDir(), 2)

	a, err := m.Create(ctx, Config{ProjectRoot: t.TempDir()})
	require.NoError(t, err)
	_, err = m.Create(ctx, Config{ProjectRoot: t.TempDir()})
	require.NoError(t, err)
	require.Equal(t, 2, m.ActiveCount())

	_, err = m.Create(ctx, Config{ProjectRoot: t.TempDir()})
	require.Error(t, err)
	require.Equal(t, errdefs.CodeSessionLimit, errdefs.Code(err))

	require.NoError(t, m.Terminate(ctx, a.ID))
	_, err = m.Create(ctx, Config{ProjectRoot: t.TempDir()})
	require.NoError(t, err)
}

// TestManagerLookup verifies lookup touches activity and unknown ids fail
// with SESSION_NOT_FOUND.
func TestManagerLookup(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, t.TempDir(), 4)

	s, err := m.Create(ctx, Config{ProjectRoot: t.TempDir()})
	require.NoError(t, err)

	before := s.LastActivity()
	got, err := m.Get(s.ID)
	require.NoError(t, err)
	require.Same(t, s, got)
	require.False(t, got.LastActivity().Before(before))

	_, err = m.Get("sess_missing1")
	require.Equal(t, errdefs.CodeSessionNotFound, errdefs.Code(err))
}

// TestManagerTerminate verifies termination removes the session, persists
// breakpoints, and deletes any recovery snapshot.
func TestManagerTerminate(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	project := t.TempDir()
	m := newTestManager(t, dataDir, 4)

	s, err := m.Create(ctx, Config{ProjectRoot: project})
	require.NoError(t, err)
	require.NoError(t, s.Launch(ctx, adapter.LaunchConfig{Program: "x"}))

	_, err = s.SetBreakpoints(ctx, filepath.Join(project, "app.py"),
		[]adapter.SourceBreakpoint{{Line: 2, Enabled: true}})
	require.NoError(t, err)

	require.NoError(t, m.Terminate(ctx, s.ID))
	require.Zero(t, m.ActiveCount())

	// The breakpoints survived to disk.
	store := persist.NewBreakpointStore(filepath.Join(dataDir, "breakpoints"))
	bps, err := store.Load(project)
	require.NoError(t, err)
	require.Len(t, bps[filepath.Join(project, "app.py")], 1)

	// Terminating again reports the session is gone.
	err = m.Terminate(ctx, s.ID)
	require.Equal(t, errdefs.CodeSessionNotFound, errdefs.Code(err))
}

// TestManagerBreakpointsFollowProject verifies a new session picks up the
// project's persisted breakpoints.
func TestManagerBreakpointsFollowProject(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	project := t.TempDir()
	m := newTestManager(t, dataDir, 4)

	first, err := m.Create(ctx, Config{ProjectRoot: project})
	require.NoError(t, err)
	_, err = first.SetBreakpoints(ctx, "/src/main.py",
		[]adapter.SourceBreakpoint{{Line: 12, Enabled: true}})
	require.NoError(t, err)
	require.NoError(t, m.Terminate(ctx, first.ID))

	second, err := m.Create(ctx, Config{ProjectRoot: project})
	require.NoError(t, err)
	require.Len(t, second.Breakpoints()["/src/main.py"], 1)
}

// TestManagerRecovery runs the S5 scenario: graceful stop, restart,
// recover with identical breakpoints and watches.
func TestManagerRecovery(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	project := t.TempDir()

	m1 := newTestManager(t, dataDir, 4)
	s, err := m1.Create(ctx, Config{
		ProjectRoot: project,
		Name:        "recover-me",
	})
	require.NoError(t, err)
	sessionID := s.ID

	_, err = s.SetBreakpoints(ctx, "/src/app.py",
		[]adapter.SourceBreakpoint{{Line: 4, Enabled: true}})
	require.NoError(t, err)
	s.AddWatch("total")

	m1.Stop()

	// A fresh manager over the same stores sees the snapshot.
	m2 := newTestManager(t, dataDir, 4)
	recoverable := m2.ListRecoverable()
	require.Len(t, recoverable, 1)
	require.Equal(t, sessionID, recoverable[0].ID)
	require.True(t, recoverable[0].ServerShutdown)
	require.Len(t, recoverable[0].Breakpoints["/src/app.py"], 1)
	require.Equal(t, []string{"total"}, recoverable[0].Watches)

	recovered, err := m2.Recover(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, sessionID, recovered.ID)
	require.Equal(t, "recover-me", recovered.Name)
	require.Equal(t, StateCreated, recovered.State())
	require.Len(t, recovered.Breakpoints()["/src/app.py"], 1)
	require.Equal(t, []string{"total"}, recovered.Watches())

	// Registry membership and recoverable membership are mutually
	// exclusive: the id moved and the snapshot file is gone.
	require.Empty(t, m2.ListRecoverable())
	store := persist.NewSessionStore(filepath.Join(dataDir, "sessions"))
	loaded, err := store.Load(sessionID)
	require.NoError(t, err)
	require.Nil(t, loaded)

	_, err = m2.Recover(ctx, sessionID)
	require.Equal(t, errdefs.CodeSessionNotFound, errdefs.Code(err))
}

// TestManagerDismiss verifies dismissal deletes without recovery and is
// idempotent.
func TestManagerDismiss(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	m1 := newTestManager(t, dataDir, 4)
	s, err := m1.Create(ctx, Config{ProjectRoot: t.TempDir()})
	require.NoError(t, err)
	m1.Stop()

	m2 := newTestManager(t, dataDir, 4)
	require.True(t, m2.Dismiss(s.ID))
	require.False(t, m2.Dismiss(s.ID))
	require.Empty(t, m2.ListRecoverable())
}

// TestManagerCleanupStale verifies the idle sweep persists breakpoints
// and removes the session.
func TestManagerCleanupStale(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	project := t.TempDir()
	m := newTestManager(t, dataDir, 4)

	s, err := m.Create(ctx, Config{
		ProjectRoot:    project,
		TimeoutMinutes: 1,
	})
	require.NoError(t, err)

	// Backdate activity past the timeout, then run the sweep directly.
	s.mu.Lock()
	s.lastActivity = s.lastActivity.Add(-2 * time.Minute)
	s.mu.Unlock()

	m.cleanupStale(ctx)
	require.Zero(t, m.ActiveCount())
	_, err = m.Get(s.ID)
	require.Equal(t, errdefs.CodeSessionNotFound, errdefs.Code(err))
}

// TestManagerStopWritesSnapshots verifies graceful stop marks snapshots
// with server_shutdown=true.
func TestManagerStopWritesSnapshots(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	m := newTestManager(t, dataDir, 4)
	s, err := m.Create(ctx, Config{ProjectRoot: t.TempDir()})
	require.NoError(t, err)
	m.Stop()

	entries, err := os.ReadDir(filepath.Join(dataDir, "sessions"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	store := persist.NewSessionStore(filepath.Join(dataDir, "sessions"))
	loaded, err := store.Load(s.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.True(t, loaded.ServerShutdown)
}
