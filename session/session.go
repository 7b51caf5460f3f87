package session

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/roasbeef/dap-relay/adapter"
	"github.com/roasbeef/dap-relay/errdefs"
	"github.com/roasbeef/dap-relay/persist"
)

// Config describes a session to create.
type Config struct {
	ProjectRoot    string `json:"project_root"`
	Name           string `json:"name,omitempty"`
	Language       string `json:"language,omitempty"`
	TimeoutMinutes int    `json:"timeout_minutes,omitempty"`
}

// Limits carries the process-wide knobs a session needs at construction.
type Limits struct {
	OutputBufferMaxBytes int
	RequestTimeout       time.Duration
	LaunchTimeout        time.Duration

	// SessionTimeout is the default idle timeout for sessions that do
	// not set their own timeout-minutes.
	SessionTimeout time.Duration

	// ExecOverrides maps language tags to explicit adapter executables.
	ExecOverrides map[string]string
}

// Info is the public snapshot of a session for API responses.
type Info struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ProjectRoot     string         `json:"project_root"`
	Language        string         `json:"language"`
	State           State          `json:"state"`
	CreatedAt       time.Time      `json:"created_at"`
	LastActivity    time.Time      `json:"last_activity"`
	CurrentThreadID int            `json:"current_thread_id,omitempty"`
	StopReason      string         `json:"stop_reason,omitempty"`
	StopLocation    map[string]any `json:"stop_location,omitempty"`
}

// WatchResult is the outcome of evaluating one watch expression.
// Per-expression failures are captured in Error, never raised.
type WatchResult struct {
	Expression         string `json:"expression"`
	Result             string `json:"result,omitempty"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variables_reference"`
	Error              string `json:"error,omitempty"`
}

// Session is one debug conversation: it exclusively owns one adapter
// driver, one output ring, one event queue, the per-file breakpoint
// configuration, and the watch list. Sessions are created by the manager
// and mutated by their own operations and by adapter events.
type Session struct {
	ID             string
	Name           string
	ProjectRoot    string
	Language       string
	TimeoutMinutes int

	createdAt time.Time
	limits    Limits

	// mu is the state lock: held only across state-transition critical
	// sections, never across an adapter request.
	mu              sync.Mutex
	state           State
	lastActivity    time.Time
	currentThreadID int
	stopReason      string
	stopLocation    map[string]any

	driverMu sync.Mutex
	driver   adapter.Driver

	output *OutputBuffer
	events *EventQueue

	// bpMu guards breakpoints and watches.
	bpMu        sync.Mutex
	breakpoints map[string][]adapter.SourceBreakpoint
	watches     []string
}

// New creates a session in the CREATED state. The adapter is attached
// separately via InitAdapter.
func New(id string, cfg Config, limits Limits) *Session {
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("session-%s", strings.TrimPrefix(id, "sess_"))
	}
	language := cfg.Language
	if language == "" {
		language = "python"
	}
	timeoutMinutes := cfg.TimeoutMinutes
	if timeoutMinutes <= 0 {
		timeoutMinutes = 60
		if limits.SessionTimeout >= time.Minute {
			timeoutMinutes = int(limits.SessionTimeout / time.Minute)
		}
	}
	if limits.OutputBufferMaxBytes <= 0 {
		limits.OutputBufferMaxBytes = 50 * 1024 * 1024
	}

	now := time.Now().UTC()
	return &Session{
		ID:             id,
		Name:           name,
		ProjectRoot:    cfg.ProjectRoot,
		Language:       language,
		TimeoutMinutes: timeoutMinutes,
		createdAt:      now,
		limits:         limits,
		state:          StateCreated,
		lastActivity:   now,
		output:         NewOutputBuffer(limits.OutputBufferMaxBytes),
		events:         NewEventQueue(),
		breakpoints:    make(map[string][]adapter.SourceBreakpoint),
	}
}

// InitAdapter constructs the driver for the session's language and runs
// the adapter's DAP initialize sequence. A session owns exactly one
// driver for its lifetime.
func (s *Session) InitAdapter(ctx context.Context) error {
	driver, err := adapter.New(s.Language, adapter.Options{
		SessionID:      s.ID,
		OnOutput:       s.handleOutput,
		OnEvent:        s.handleEvent,
		ExecOverride:   s.limits.ExecOverrides[s.Language],
		RequestTimeout: s.limits.RequestTimeout,
		LaunchTimeout:  s.limits.LaunchTimeout,
	})
	if err != nil {
		return err
	}

	if _, err := driver.Initialize(ctx); err != nil {
		return err
	}

	s.driverMu.Lock()
	s.driver = driver
	s.driverMu.Unlock()
	return nil
}

// AttachDriver installs an already-initialized driver. Used by embedders
// and tests that construct drivers outside the registry.
func (s *Session) AttachDriver(driver adapter.Driver) {
	s.driverMu.Lock()
	s.driver = driver
	s.driverMu.Unlock()
}

// Driver returns the session's adapter driver, or nil before InitAdapter.
func (s *Session) Driver() adapter.Driver {
	s.driverMu.Lock()
	defer s.driverMu.Unlock()
	return s.driver
}

func (s *Session) requireDriver() (adapter.Driver, error) {
	s.driverMu.Lock()
	defer s.driverMu.Unlock()
	if s.driver == nil {
		return nil, errdefs.DAPConnection("session has no adapter")
	}
	return s.driver, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transitionTo performs a legal state transition under the state lock and
// updates last-activity. An illegal transition fails with
// INVALID_SESSION_STATE naming the current state and its legal
// successors.
func (s *Session) transitionTo(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !canTransition(s.state, next) {
		return errdefs.InvalidSessionState(
			s.ID, string(s.state), successors(s.state))
	}

	s.state = next
	s.lastActivity = time.Now().UTC()
	log.Printf("[Session %s] state -> %s", s.ID, next)
	return nil
}

// tryTransitionTo is transitionTo with illegal transitions swallowed, for
// event-driven changes that may race the request path.
func (s *Session) tryTransitionTo(next State) {
	if err := s.transitionTo(next); err != nil {
		log.Printf("[Session %s] ignoring transition to %s: %v",
			s.ID, next, err)
	}
}

// requireState fails with INVALID_SESSION_STATE unless the session is in
// one of the given states.
func (s *Session) requireState(states ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, state := range states {
		if s.state == state {
			return nil
		}
	}

	required := make([]string, len(states))
	for i, state := range states {
		required[i] = string(state)
	}
	return errdefs.InvalidSessionState(s.ID, string(s.state), required)
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

// LastActivity returns the last-activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Output returns the session's output ring buffer.
func (s *Session) Output() *OutputBuffer {
	return s.output
}

// Events returns the session's event queue.
func (s *Session) Events() *EventQueue {
	return s.events
}

// Launch starts the debug target. The session must be CREATED; on success
// it is RUNNING, or PAUSED if a breakpoint fired during the handshake; on
// failure it is FAILED and the error is returned.
func (s *Session) Launch(ctx context.Context, cfg adapter.LaunchConfig) error {
	if err := s.requireState(StateCreated); err != nil {
		return err
	}
	if err := s.transitionTo(StateLaunching); err != nil {
		return err
	}

	driver, err := s.requireDriver()
	if err != nil {
		s.tryTransitionTo(StateFailed)
		return err
	}

	err = driver.Launch(ctx, cfg, s.configureCallback(cfg.StopOnException))
	if err != nil {
		s.tryTransitionTo(StateFailed)
		return err
	}

	// A stopped event during the handshake may already have moved the
	// session to PAUSED; only promote to RUNNING from LAUNCHING.
	s.mu.Lock()
	launching := s.state == StateLaunching
	s.mu.Unlock()
	if launching {
		s.tryTransitionTo(StateRunning)
	}
	return nil
}

// Attach connects to a running process. Same state contract as Launch.
func (s *Session) Attach(ctx context.Context, cfg adapter.AttachConfig) error {
	if err := s.requireState(StateCreated); err != nil {
		return err
	}
	if err := s.transitionTo(StateLaunching); err != nil {
		return err
	}

	driver, err := s.requireDriver()
	if err != nil {
		s.tryTransitionTo(StateFailed)
		return err
	}

	err = driver.Attach(ctx, cfg, s.configureCallback(false))
	if err != nil {
		s.tryTransitionTo(StateFailed)
		return err
	}

	s.mu.Lock()
	launching := s.state == StateLaunching
	s.mu.Unlock()
	if launching {
		s.tryTransitionTo(StateRunning)
	}
	return nil
}

// configureCallback re-declares the session's breakpoints and exception
// filters during the DAP configuration phase.
func (s *Session) configureCallback(stopOnException bool) adapter.ConfigureFunc {
	return func(ctx context.Context) error {
		driver, err := s.requireDriver()
		if err != nil {
			return err
		}

		s.bpMu.Lock()
		breakpoints := make(map[string][]adapter.SourceBreakpoint,
			len(s.breakpoints))
		for path, bps := range s.breakpoints {
			breakpoints[path] = append(
				[]adapter.SourceBreakpoint(nil), bps...)
		}
		s.bpMu.Unlock()

		for path, bps := range breakpoints {
			if _, err := driver.SetBreakpoints(ctx, path, bps); err != nil {
				return err
			}
		}

		if stopOnException {
			return driver.SetExceptionBreakpoints(
				ctx, []string{"uncaught"})
		}
		return nil
	}
}

// SetBreakpoints replaces the breakpoint list for one source file.
// Permitted in any state. Once the target is launched the list is
// forwarded and the adapter's verdicts returned; before that (including
// mid-handshake, where direct sends would race configurationDone) the
// verdicts are synthetic and unverified.
func (s *Session) SetBreakpoints(ctx context.Context, sourcePath string,
	bps []adapter.SourceBreakpoint) ([]adapter.Breakpoint, error) {

	s.Touch()

	s.bpMu.Lock()
	s.breakpoints[sourcePath] = append(
		[]adapter.SourceBreakpoint(nil), bps...)
	s.bpMu.Unlock()

	driver := s.Driver()
	if driver != nil && driver.Launched() {
		return driver.SetBreakpoints(ctx, sourcePath, bps)
	}

	verdicts := make([]adapter.Breakpoint, len(bps))
	for i, bp := range bps {
		verdicts[i] = adapter.Breakpoint{
			Verified: false,
			Line:     bp.Line,
			Message:  "Pending launch",
		}
	}
	return verdicts, nil
}

// Breakpoints returns a copy of the per-file breakpoint configuration.
func (s *Session) Breakpoints() map[string][]adapter.SourceBreakpoint {
	s.bpMu.Lock()
	defer s.bpMu.Unlock()

	out := make(map[string][]adapter.SourceBreakpoint, len(s.breakpoints))
	for path, bps := range s.breakpoints {
		out[path] = append([]adapter.SourceBreakpoint(nil), bps...)
	}
	return out
}

// RestoreBreakpoints installs a breakpoint configuration wholesale, used
// when loading persisted state.
func (s *Session) RestoreBreakpoints(bps map[string][]adapter.SourceBreakpoint) {
	s.bpMu.Lock()
	defer s.bpMu.Unlock()
	s.breakpoints = make(map[string][]adapter.SourceBreakpoint, len(bps))
	for path, list := range bps {
		s.breakpoints[path] = append(
			[]adapter.SourceBreakpoint(nil), list...)
	}
}

// Continue resumes execution. The session must be PAUSED; on success it is
// RUNNING and the stop reason and location are cleared.
func (s *Session) Continue(ctx context.Context, threadID int) error {
	if err := s.requireState(StatePaused); err != nil {
		return err
	}
	driver, err := s.requireDriver()
	if err != nil {
		return err
	}

	if err := driver.Continue(ctx, s.resolveThread(threadID)); err != nil {
		return err
	}

	if err := s.transitionTo(StateRunning); err != nil {
		return err
	}

	s.mu.Lock()
	s.stopReason = ""
	s.stopLocation = nil
	s.mu.Unlock()
	return nil
}

// Pause interrupts a running program. The state changes when the
// adapter's stopped event arrives, not here.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	if err := s.requireState(StateRunning); err != nil {
		return err
	}
	driver, err := s.requireDriver()
	if err != nil {
		return err
	}
	return driver.Pause(ctx, s.resolveThread(threadID))
}

// StepOver executes the next line without entering calls. Must be PAUSED;
// transitions to RUNNING.
func (s *Session) StepOver(ctx context.Context, threadID int) error {
	return s.step(ctx, threadID, adapter.Driver.StepOver)
}

// StepInto steps into function calls. Must be PAUSED; transitions to
// RUNNING.
func (s *Session) StepInto(ctx context.Context, threadID int) error {
	return s.step(ctx, threadID, adapter.Driver.StepInto)
}

// StepOut continues until the current function returns. Must be PAUSED;
// transitions to RUNNING.
func (s *Session) StepOut(ctx context.Context, threadID int) error {
	return s.step(ctx, threadID, adapter.Driver.StepOut)
}

func (s *Session) step(ctx context.Context, threadID int,
	op func(adapter.Driver, context.Context, int) error) error {

	if err := s.requireState(StatePaused); err != nil {
		return err
	}
	driver, err := s.requireDriver()
	if err != nil {
		return err
	}
	if err := op(driver, ctx, s.resolveThread(threadID)); err != nil {
		return err
	}
	return s.transitionTo(StateRunning)
}

// resolveThread substitutes the current thread when the caller passes 0.
func (s *Session) resolveThread(threadID int) int {
	if threadID != 0 {
		return threadID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentThreadID != 0 {
		return s.currentThreadID
	}
	return 1
}

// Threads lists the debuggee's threads.
func (s *Session) Threads(ctx context.Context) ([]adapter.Thread, error) {
	driver, err := s.requireDriver()
	if err != nil {
		return nil, err
	}
	return driver.Threads(ctx)
}

// StackTrace returns a thread's call stack.
func (s *Session) StackTrace(ctx context.Context, threadID, startFrame,
	levels int) ([]adapter.StackFrame, error) {

	driver, err := s.requireDriver()
	if err != nil {
		return nil, err
	}
	if levels <= 0 {
		levels = 20
	}

	frames, err := driver.StackTrace(ctx, s.resolveThread(threadID),
		startFrame, levels)
	if err != nil {
		return nil, err
	}

	// Record the top frame as the stop location while paused, so info
	// snapshots can report where execution halted.
	if startFrame == 0 && len(frames) > 0 {
		top := frames[0]
		s.mu.Lock()
		if s.state == StatePaused {
			location := map[string]any{
				"function": top.Name,
				"line":     top.Line,
			}
			if top.Source != nil {
				location["file"] = top.Source.Path
			}
			s.stopLocation = location
		}
		s.mu.Unlock()
	}

	return frames, nil
}

// Scopes returns the variable scopes of a frame.
func (s *Session) Scopes(ctx context.Context, frameID int) ([]adapter.Scope, error) {
	driver, err := s.requireDriver()
	if err != nil {
		return nil, err
	}
	return driver.Scopes(ctx, frameID)
}

// Variables expands a variables reference.
func (s *Session) Variables(ctx context.Context, variablesReference, start,
	count int) ([]adapter.Variable, error) {

	driver, err := s.requireDriver()
	if err != nil {
		return nil, err
	}
	return driver.Variables(ctx, variablesReference, start, count)
}

// Evaluate evaluates an expression in the given frame and context.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int,
	evalContext string) (adapter.EvalResult, error) {

	driver, err := s.requireDriver()
	if err != nil {
		return adapter.EvalResult{}, err
	}
	s.Touch()
	return driver.Evaluate(ctx, expression, frameID, evalContext)
}

// AddWatch adds a watch expression and returns the current list. Adding
// an already-present expression is a no-op.
func (s *Session) AddWatch(expression string) []string {
	s.Touch()
	s.bpMu.Lock()
	defer s.bpMu.Unlock()

	for _, w := range s.watches {
		if w == expression {
			return append([]string(nil), s.watches...)
		}
	}
	s.watches = append(s.watches, expression)
	return append([]string(nil), s.watches...)
}

// RemoveWatch removes a watch expression and returns the current list.
func (s *Session) RemoveWatch(expression string) []string {
	s.Touch()
	s.bpMu.Lock()
	defer s.bpMu.Unlock()

	for i, w := range s.watches {
		if w == expression {
			s.watches = append(s.watches[:i], s.watches[i+1:]...)
			break
		}
	}
	return append([]string(nil), s.watches...)
}

// Watches returns the watch expressions in insertion order.
func (s *Session) Watches() []string {
	s.bpMu.Lock()
	defer s.bpMu.Unlock()
	return append([]string(nil), s.watches...)
}

// ClearWatches removes all watch expressions.
func (s *Session) ClearWatches() {
	s.Touch()
	s.bpMu.Lock()
	s.watches = nil
	s.bpMu.Unlock()
}

// RestoreWatches installs a watch list wholesale, used when loading
// persisted state.
func (s *Session) RestoreWatches(watches []string) {
	s.bpMu.Lock()
	s.watches = append([]string(nil), watches...)
	s.bpMu.Unlock()
}

// EvaluateWatches evaluates every watch expression in the given frame.
// Only meaningful when PAUSED; silently returns an empty slice otherwise.
// Per-expression failures are captured, not raised.
func (s *Session) EvaluateWatches(ctx context.Context, frameID int) []WatchResult {
	if s.State() != StatePaused {
		return []WatchResult{}
	}
	driver := s.Driver()
	if driver == nil {
		return []WatchResult{}
	}

	watches := s.Watches()
	results := make([]WatchResult, 0, len(watches))
	for _, expr := range watches {
		result, err := driver.Evaluate(ctx, expr, frameID, "watch")
		if err != nil {
			results = append(results, WatchResult{
				Expression: expr,
				Error:      err.Error(),
			})
			continue
		}
		results = append(results, WatchResult{
			Expression:         expr,
			Result:             result.Result,
			Type:               result.Type,
			VariablesReference: result.VariablesReference,
		})
	}
	return results
}

// handleOutput feeds debuggee output into the ring buffer. Invoked
// synchronously from the DAP reader, so it must stay an O(1) append.
func (s *Session) handleOutput(category, content string) {
	s.output.Append(category, content)
}

// handleEvent is the driver's event callback: enqueue first (never block
// the adapter reader), then apply the bounded state-machine effect.
func (s *Session) handleEvent(kind adapter.EventKind, data map[string]any) {
	s.events.Put(kind, data)

	switch kind {
	case adapter.EventStopped:
		s.mu.Lock()
		if tid, ok := data["threadId"].(float64); ok {
			s.currentThreadID = int(tid)
		}
		if reason, ok := data["reason"].(string); ok {
			s.stopReason = reason
		}
		s.mu.Unlock()
		s.tryTransitionTo(StatePaused)

	case adapter.EventContinued:
		s.tryTransitionTo(StateRunning)

	case adapter.EventTerminated, adapter.EventExited:
		s.tryTransitionTo(StateTerminated)

	case adapter.EventOutput:
		// Already appended to the ring via the output callback.
	}
}

// CurrentThreadID returns the thread id recorded from the last stopped
// event, or zero.
func (s *Session) CurrentThreadID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentThreadID
}

// Cleanup releases session resources: the adapter is disconnected (errors
// logged, never fatal) and the buffers cleared. Idempotent.
func (s *Session) Cleanup(ctx context.Context) {
	s.driverMu.Lock()
	driver := s.driver
	s.driver = nil
	s.driverMu.Unlock()

	if driver != nil {
		if err := driver.Disconnect(ctx, true); err != nil {
			log.Printf("[Session %s] disconnect failed: %v", s.ID, err)
		}
	}

	s.output.Clear()
	s.events.Clear()
	log.Printf("[Session %s] cleaned up", s.ID)
}

// ToInfo snapshots the session for API responses.
func (s *Session) ToInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:              s.ID,
		Name:            s.Name,
		ProjectRoot:     s.ProjectRoot,
		Language:        s.Language,
		State:           s.state,
		CreatedAt:       s.createdAt,
		LastActivity:    s.lastActivity,
		CurrentThreadID: s.currentThreadID,
		StopReason:      s.stopReason,
		StopLocation:    s.stopLocation,
	}
}

// ToPersisted snapshots the session's recoverable configuration.
func (s *Session) ToPersisted(serverShutdown bool) persist.PersistedSession {
	s.mu.Lock()
	state := s.state
	lastActivity := s.lastActivity
	s.mu.Unlock()

	return persist.PersistedSession{
		ID:             s.ID,
		Name:           s.Name,
		ProjectRoot:    s.ProjectRoot,
		State:          string(state),
		Language:       s.Language,
		CreatedAt:      s.createdAt,
		LastActivity:   lastActivity,
		Breakpoints:    s.Breakpoints(),
		Watches:        s.Watches(),
		SavedAt:        time.Now().UTC(),
		ServerShutdown: serverShutdown,
	}
}

// NewFromPersisted creates a brand-new CREATED session initialised with a
// snapshot's breakpoints and watches. The old debuggee is not resurrected.
func NewFromPersisted(data persist.PersistedSession, limits Limits) *Session {
	s := New(data.ID, Config{
		ProjectRoot: data.ProjectRoot,
		Name:        data.Name,
		Language:    data.Language,
	}, limits)

	s.RestoreBreakpoints(data.Breakpoints)
	s.RestoreWatches(data.Watches)
	return s
}
