package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/dap-relay/adapter"
	"github.com/roasbeef/dap-relay/adapter/adaptertest"
	"github.com/roasbeef/dap-relay/errdefs"
	"github.com/roasbeef/dap-relay/persist"
	"github.com/roasbeef/dap-relay/session"
)

func init() {
	// The "fake" language resolves to the in-memory driver, so handler
	// tests exercise the full create/init path without real adapters.
	adapter.Register(adapter.Language("fake"), func(opts adapter.Options) adapter.Driver {
		return adaptertest.New(opts)
	})
}

type testRelay struct {
	t       *testing.T
	manager *session.Manager
	srv     *httptest.Server
	dataDir string
}

func newTestRelay(t *testing.T, maxSessions int) *testRelay {
	dataDir := t.TempDir()
	manager := session.NewManager(session.ManagerOptions{
		MaxSessions: maxSessions,
		Limits: session.Limits{
			OutputBufferMaxBytes: 1024 * 1024,
			RequestTimeout:       time.Second,
			LaunchTimeout:        time.Second,
		},
		BreakpointStore: persist.NewBreakpointStore(filepath.Join(dataDir, "breakpoints")),
		SessionStore:    persist.NewSessionStore(filepath.Join(dataDir, "sessions")),
	})
	require.NoError(t, manager.Start())
	t.Cleanup(manager.Stop)

	srv := httptest.NewServer(New(manager, "127.0.0.1:0").Handler())
	t.Cleanup(srv.Close)

	return &testRelay{t: t, manager: manager, srv: srv, dataDir: dataDir}
}

// do issues a JSON request and decodes the JSON response.
func (r *testRelay) do(method, path string, body any, out any) *http.Response {
	var payload *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(r.t, err)
		payload = bytes.NewBuffer(encoded)
	} else {
		payload = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, r.srv.URL+path, payload)
	require.NoError(r.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(r.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(r.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (r *testRelay) createSession(projectRoot string) session.Info {
	var info session.Info
	resp := r.do("POST", "/sessions", map[string]any{
		"project_root": projectRoot,
		"language":     "fake",
	}, &info)
	require.Equal(r.t, http.StatusCreated, resp.StatusCode)
	return info
}

// fakeDriver digs the in-memory driver out of a live session.
func (r *testRelay) fakeDriver(id string) *adaptertest.FakeDriver {
	sess, err := r.manager.Get(id)
	require.NoError(r.t, err)
	driver, ok := sess.Driver().(*adaptertest.FakeDriver)
	require.True(r.t, ok)
	return driver
}

// TestSessionLifecycle walks create, get, list, terminate over HTTP.
func TestSessionLifecycle(t *testing.T) {
	relay := newTestRelay(t, 4)

	info := relay.createSession(t.TempDir())
	require.NotEmpty(t, info.ID)
	require.Equal(t, session.StateCreated, info.State)

	var got session.Info
	resp := relay.do("GET", "/sessions/"+info.ID, nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, info.ID, got.ID)

	var list struct {
		Sessions []session.Info `json:"sessions"`
		Count    int            `json:"count"`
	}
	relay.do("GET", "/sessions", nil, &list)
	require.Equal(t, 1, list.Count)

	resp = relay.do("DELETE", "/sessions/"+info.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var errResp errorBody
	resp = relay.do("GET", "/sessions/"+info.ID, nil, &errResp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, errdefs.CodeSessionNotFound, errResp.Code)
}

// TestSessionLimitMapped verifies the admission cap maps to 429.
func TestSessionLimitMapped(t *testing.T) {
	relay := newTestRelay(t, 1)
	relay.createSession(t.TempDir())

	var errResp errorBody
	resp := relay.do("POST", "/sessions", map[string]any{
		"project_root": t.TempDir(),
		"language":     "fake",
	}, &errResp)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, errdefs.CodeSessionLimit, errResp.Code)
}

// TestUnsupportedLanguageMapped verifies unknown languages map to 400.
func TestUnsupportedLanguageMapped(t *testing.T) {
	relay := newTestRelay(t, 4)

	var errResp errorBody
	resp := relay.do("POST", "/sessions", map[string]any{
		"project_root": t.TempDir(),
		"language":     "cobol",
	}, &errResp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, errdefs.CodeUnsupportedLanguage, errResp.Code)
}

// TestInvalidStateMapped verifies illegal operations map to 409 and name
// the legal successors.
func TestInvalidStateMapped(t *testing.T) {
	relay := newTestRelay(t, 4)
	info := relay.createSession(t.TempDir())

	var errResp errorBody
	resp := relay.do("POST", "/sessions/"+info.ID+"/continue", nil, &errResp)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, errdefs.CodeInvalidSessionState, errResp.Code)
	require.Contains(t, errResp.Details, "required_states")
}

// TestLaunchAndExecutionFlow drives launch, a breakpoint stop, and
// continue through the REST surface.
func TestLaunchAndExecutionFlow(t *testing.T) {
	relay := newTestRelay(t, 4)
	info := relay.createSession(t.TempDir())

	var launched session.Info
	resp := relay.do("POST", "/sessions/"+info.ID+"/launch", map[string]any{
		"program": "/tmp/app.py",
	}, &launched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, session.StateRunning, launched.State)

	relay.fakeDriver(info.ID).EmitStopped(1, "breakpoint")

	var resumed session.Info
	resp = relay.do("POST", "/sessions/"+info.ID+"/continue", nil, &resumed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, session.StateRunning, resumed.State)
}

// TestBreakpointsEndpoint verifies pending verdicts before launch, the
// enabled default, and the write-through persistence.
func TestBreakpointsEndpoint(t *testing.T) {
	relay := newTestRelay(t, 4)
	project := t.TempDir()
	info := relay.createSession(project)

	var result struct {
		File        string               `json:"file"`
		Breakpoints []adapter.Breakpoint `json:"breakpoints"`
	}
	resp := relay.do("POST", "/sessions/"+info.ID+"/breakpoints",
		map[string]any{
			"file": "/src/app.py",
			"breakpoints": []map[string]any{
				{"line": 4},
				{"line": 9, "condition": "i == 5"},
			},
		}, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, result.Breakpoints, 2)
	require.False(t, result.Breakpoints[0].Verified)
	require.Equal(t, "Pending launch", result.Breakpoints[0].Message)

	// Write-through: the project's breakpoint file exists with the
	// enabled flag defaulted true.
	store := persist.NewBreakpointStore(filepath.Join(relay.dataDir, "breakpoints"))
	bps, err := store.Load(project)
	require.NoError(t, err)
	require.Len(t, bps["/src/app.py"], 2)
	require.True(t, bps["/src/app.py"][0].Enabled)
	require.Equal(t, "i == 5", bps["/src/app.py"][1].Condition)
}

// TestWatchesEndpoint verifies add/remove/clear and idempotent adds.
func TestWatchesEndpoint(t *testing.T) {
	relay := newTestRelay(t, 4)
	info := relay.createSession(t.TempDir())
	base := "/sessions/" + info.ID + "/watches"

	var watches struct {
		Watches []string `json:"watches"`
	}
	relay.do("POST", base, map[string]any{"expression": "x"}, &watches)
	relay.do("POST", base, map[string]any{"expression": "y"}, &watches)
	relay.do("POST", base, map[string]any{"expression": "x"}, &watches)
	require.Equal(t, []string{"x", "y"}, watches.Watches)

	relay.do("DELETE", base, map[string]any{"expression": "x"}, &watches)
	require.Equal(t, []string{"y"}, watches.Watches)

	relay.do("DELETE", base, nil, &watches)
	require.Empty(t, watches.Watches)
}

// TestOutputEndpoint verifies paging and cursor retrieval of captured
// output.
func TestOutputEndpoint(t *testing.T) {
	relay := newTestRelay(t, 4)
	info := relay.createSession(t.TempDir())

	driver := relay.fakeDriver(info.ID)
	for i := 1; i <= 3; i++ {
		driver.EmitOutput("stdout", fmt.Sprintf("line %d\n", i))
	}

	var page session.OutputPage
	resp := relay.do("GET", "/sessions/"+info.ID+"/output?limit=2", nil, &page)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, page.Lines, 2)
	require.True(t, page.HasMore)

	relay.do("GET", "/sessions/"+info.ID+"/output?since=2", nil, &page)
	require.Len(t, page.Lines, 1)
	require.Equal(t, 3, page.Lines[0].LineNumber)
}

// TestEventsEndpoint verifies drain-style event retrieval.
func TestEventsEndpoint(t *testing.T) {
	relay := newTestRelay(t, 4)
	info := relay.createSession(t.TempDir())

	relay.fakeDriver(info.ID).EmitStopped(1, "breakpoint")

	var events struct {
		Events []session.DebugEvent `json:"events"`
		Count  int                  `json:"count"`
	}
	relay.do("GET", "/sessions/"+info.ID+"/events", nil, &events)
	require.Equal(t, 1, events.Count)
	require.Equal(t, adapter.EventStopped, events.Events[0].Type)

	relay.do("GET", "/sessions/"+info.ID+"/events", nil, &events)
	require.Zero(t, events.Count)
}

// TestRecoveryEndpoints verifies dismissal semantics over HTTP.
func TestRecoveryEndpoints(t *testing.T) {
	relay := newTestRelay(t, 4)

	var listing struct {
		Sessions []persist.PersistedSession `json:"sessions"`
	}
	resp := relay.do("GET", "/recovery", nil, &listing)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, listing.Sessions)

	var dismissed struct {
		Dismissed bool `json:"dismissed"`
	}
	relay.do("DELETE", "/recovery/sess_unknown0", nil, &dismissed)
	require.False(t, dismissed.Dismissed)

	var errResp errorBody
	resp = relay.do("POST", "/recovery/sess_unknown0", nil, &errResp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestHealthEndpoint verifies the health snapshot.
func TestHealthEndpoint(t *testing.T) {
	relay := newTestRelay(t, 4)
	relay.createSession(t.TempDir())

	var health struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
	}
	resp := relay.do("GET", "/health", nil, &health)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", health.Status)
	require.Equal(t, 1, health.ActiveSessions)
}
