package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/dap-relay/adapter"
	"github.com/roasbeef/dap-relay/adapter/adaptertest"
	"github.com/roasbeef/dap-relay/errdefs"
)

func testLimits() Limits {
	return Limits{
		OutputBufferMaxBytes: 1024 * 1024,
		RequestTimeout:       time.Second,
		LaunchTimeout:        time.Second,
	}
}

// newTestSession wires a session to a fake driver the way InitAdapter
// wires a real one.
func newTestSession(t *testing.T, cfg Config) (*Session, *adaptertest.FakeDriver) {
	s := New("sess_abcd1234", cfg, testLimits())

	driver := adaptertest.New(adapter.Options{
		SessionID: s.ID,
		OnOutput:  s.handleOutput,
		OnEvent:   s.handleEvent,
	})
	s.AttachDriver(driver)
	return s, driver
}

// TestSessionDefaults verifies name, language, and timeout defaulting.
func TestSessionDefaults(t *testing.T) {
	s := New("sess_abcd1234", Config{ProjectRoot: "/tmp/proj"}, testLimits())
	require.Equal(t, "session-abcd1234", s.Name)
	require.Equal(t, "python", s.Language)
	require.Equal(t, 60, s.TimeoutMinutes)
	require.Equal(t, StateCreated, s.State())
}

// TestLaunchTransitionsToRunning covers the happy path: CREATED ->
// LAUNCHING -> RUNNING, with configure declaring the session's
// breakpoints.
func TestLaunchTransitionsToRunning(t *testing.T) {
	s, driver := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})

	_, err := s.SetBreakpoints(context.Background(), "/tmp/proj/app.py",
		[]adapter.SourceBreakpoint{{Line: 4, Enabled: true}})
	require.NoError(t, err)

	require.NoError(t, s.Launch(context.Background(),
		adapter.LaunchConfig{Program: "/tmp/proj/app.py"}))
	require.Equal(t, StateRunning, s.State())

	// The configuration phase re-declared the stored breakpoints.
	require.Len(t, driver.SetBreakpointsCalls, 1)
	require.Equal(t, "/tmp/proj/app.py", driver.SetBreakpointsCalls[0].Path)
}

// TestLaunchPausedDuringHandshake verifies a breakpoint that fires during
// the handshake leaves the session PAUSED, not RUNNING.
func TestLaunchPausedDuringHandshake(t *testing.T) {
	s, driver := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})

	driver.LaunchHook = func(ctx context.Context,
		configure adapter.ConfigureFunc) error {

		if err := configure(ctx); err != nil {
			return err
		}
		// Entry breakpoint hits before the launch response settles.
		driver.EmitStopped(1, "breakpoint")
		return nil
	}

	require.NoError(t, s.Launch(context.Background(),
		adapter.LaunchConfig{Program: "/tmp/proj/app.py"}))
	require.Equal(t, StatePaused, s.State())
	require.Equal(t, 1, s.CurrentThreadID())
}

// TestLaunchFailureTransitionsToFailed verifies errors re-raise and leave
// the session FAILED, which is terminal.
func TestLaunchFailureTransitionsToFailed(t *testing.T) {
	s, driver := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})
	driver.LaunchErr = errors.New("adapter exploded")

	err := s.Launch(context.Background(), adapter.LaunchConfig{
		Program: "/tmp/proj/app.py",
	})
	require.Error(t, err)
	require.Equal(t, StateFailed, s.State())

	// Terminal: relaunching reports the illegal state.
	err = s.Launch(context.Background(), adapter.LaunchConfig{
		Program: "/tmp/proj/app.py",
	})
	require.Equal(t, errdefs.CodeInvalidSessionState, errdefs.Code(err))
}

// TestLaunchRequiresCreated verifies launch in any other state is
// rejected.
func TestLaunchRequiresCreated(t *testing.T) {
	s, _ := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})
	require.NoError(t, s.Launch(context.Background(),
		adapter.LaunchConfig{Program: "x"}))

	err := s.Launch(context.Background(), adapter.LaunchConfig{Program: "x"})
	require.Equal(t, errdefs.CodeInvalidSessionState, errdefs.Code(err))
}

// TestSetBreakpointsBeforeLaunch verifies synthetic unverified verdicts
// before the adapter is launched.
func TestSetBreakpointsBeforeLaunch(t *testing.T) {
	s, driver := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})

	verdicts, err := s.SetBreakpoints(context.Background(), "/a.py",
		[]adapter.SourceBreakpoint{{Line: 3, Enabled: true}, {Line: 9, Enabled: true}})
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	for _, v := range verdicts {
		require.False(t, v.Verified)
		require.Equal(t, "Pending launch", v.Message)
	}

	// Nothing was forwarded to the driver.
	require.Empty(t, driver.SetBreakpointsCalls)
}

// TestSetBreakpointsAfterLaunch verifies forwarding and replace-all
// semantics, and that repeating the same list yields the same verdicts.
func TestSetBreakpointsAfterLaunch(t *testing.T) {
	s, _ := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})
	require.NoError(t, s.Launch(context.Background(),
		adapter.LaunchConfig{Program: "x"}))

	bps := []adapter.SourceBreakpoint{{Line: 5, Enabled: true}}

	first, err := s.SetBreakpoints(context.Background(), "/a.py", bps)
	require.NoError(t, err)
	require.True(t, first[0].Verified)

	second, err := s.SetBreakpoints(context.Background(), "/a.py", bps)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Replace-all: the stored config holds the latest list only.
	require.Len(t, s.Breakpoints()["/a.py"], 1)
}

// TestExecutionStateContracts walks continue/pause/step through their
// required pre-states.
func TestExecutionStateContracts(t *testing.T) {
	ctx := context.Background()
	s, driver := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})
	require.NoError(t, s.Launch(ctx, adapter.LaunchConfig{Program: "x"}))

	// continue requires PAUSED.
	err := s.Continue(ctx, 0)
	require.Equal(t, errdefs.CodeInvalidSessionState, errdefs.Code(err))

	// pause requires RUNNING and does not itself change state.
	require.NoError(t, s.Pause(ctx, 0))
	require.Equal(t, StateRunning, s.State())

	// The stopped event moves the session to PAUSED.
	driver.EmitStopped(7, "pause")
	require.Equal(t, StatePaused, s.State())
	require.Equal(t, 7, s.CurrentThreadID())

	// step-over transitions back to RUNNING.
	require.NoError(t, s.StepOver(ctx, 0))
	require.Equal(t, StateRunning, s.State())

	driver.EmitStopped(7, "step")
	require.NoError(t, s.Continue(ctx, 0))
	require.Equal(t, StateRunning, s.State())

	info := s.ToInfo()
	require.Empty(t, info.StopReason)
}

// TestEventHandlerTransitions verifies the event fan-in: queue first,
// then the bounded state effect, with illegal transitions swallowed.
func TestEventHandlerTransitions(t *testing.T) {
	s, driver := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})
	require.NoError(t, s.Launch(context.Background(),
		adapter.LaunchConfig{Program: "x"}))

	driver.EmitStopped(1, "breakpoint")
	require.Equal(t, StatePaused, s.State())

	driver.EmitEvent(adapter.EventContinued, map[string]any{})
	require.Equal(t, StateRunning, s.State())

	driver.EmitTerminated()
	require.Equal(t, StateTerminated, s.State())

	// Further events must not panic or resurrect the session.
	driver.EmitStopped(1, "breakpoint")
	require.Equal(t, StateTerminated, s.State())

	events := s.Events().GetAll(0)
	require.Len(t, events, 4)
}

// TestOutputEventsReachRing verifies debuggee output lands in the ring
// buffer via the output callback.
func TestOutputEventsReachRing(t *testing.T) {
	s, driver := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})

	driver.EmitOutput("stdout", "Hello, World!\n")
	driver.EmitOutput("stderr", "warning\n")

	page := s.Output().GetPage(0, 10, "")
	require.Len(t, page.Lines, 2)
	require.Equal(t, "Hello, World!\n", page.Lines[0].Content)
	require.Equal(t, "stderr", page.Lines[1].Category)
}

// TestWatchIdempotence verifies the de-duplicated insertion-ordered watch
// list.
func TestWatchIdempotence(t *testing.T) {
	s, _ := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})

	s.AddWatch("x")
	s.AddWatch("y")
	list := s.AddWatch("x")
	require.Equal(t, []string{"x", "y"}, list)

	list = s.RemoveWatch("x")
	require.Equal(t, []string{"y"}, list)

	// Removing an absent expression is a no-op.
	list = s.RemoveWatch("zzz")
	require.Equal(t, []string{"y"}, list)

	s.ClearWatches()
	require.Empty(t, s.Watches())
}

// TestEvaluateWatches verifies evaluation only runs when PAUSED and
// per-expression failures are captured, not raised.
func TestEvaluateWatches(t *testing.T) {
	ctx := context.Background()
	s, driver := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})
	s.AddWatch("good")
	s.AddWatch("bad")

	// Not paused: silently empty.
	require.Empty(t, s.EvaluateWatches(ctx, 0))

	require.NoError(t, s.Launch(ctx, adapter.LaunchConfig{Program: "x"}))
	driver.EmitStopped(1, "breakpoint")

	driver.EvaluateHook = func(expression string) (adapter.EvalResult, error) {
		if expression == "bad" {
			return adapter.EvalResult{}, errors.New("name not defined")
		}
		return adapter.EvalResult{Result: "41", Type: "int"}, nil
	}

	results := s.EvaluateWatches(ctx, 0)
	require.Len(t, results, 2)
	require.Equal(t, "41", results[0].Result)
	require.Empty(t, results[0].Error)
	require.Contains(t, results[1].Error, "name not defined")
}

// TestPersistedRoundTrip verifies the to-persisted/from-persisted law:
// identity, breakpoints, and watches survive.
func TestPersistedRoundTrip(t *testing.T) {
	s, _ := newTestSession(t, Config{
		ProjectRoot: "/tmp/proj",
		Name:        "roundtrip",
		Language:    "python",
	})
	_, err := s.SetBreakpoints(context.Background(), "/tmp/proj/app.py",
		[]adapter.SourceBreakpoint{
			{Line: 4, Condition: "i == 5", Enabled: true},
		})
	require.NoError(t, err)
	s.AddWatch("total")

	persisted := s.ToPersisted(true)
	require.True(t, persisted.ServerShutdown)
	require.WithinDuration(t, time.Now().UTC(), persisted.SavedAt, time.Minute)

	restored := NewFromPersisted(persisted, testLimits())
	require.Equal(t, s.ID, restored.ID)
	require.Equal(t, "roundtrip", restored.Name)
	require.Equal(t, "/tmp/proj", restored.ProjectRoot)
	require.Equal(t, "python", restored.Language)
	require.Equal(t, StateCreated, restored.State())
	require.Equal(t, s.Breakpoints(), restored.Breakpoints())
	require.Equal(t, s.Watches(), restored.Watches())
}

// TestCleanupIdempotent verifies cleanup disconnects once, clears the
// buffers, and tolerates repetition.
func TestCleanupIdempotent(t *testing.T) {
	s, driver := newTestSession(t, Config{ProjectRoot: "/tmp/proj"})
	driver.EmitOutput("stdout", "something\n")

	s.Cleanup(context.Background())
	require.Equal(t, 1, driver.DisconnectCount())
	require.Zero(t, s.Output().TotalLines())

	// The driver is detached, so a second cleanup does not disconnect
	// again and must not panic.
	s.Cleanup(context.Background())
	require.Equal(t, 1, driver.DisconnectCount())
}
