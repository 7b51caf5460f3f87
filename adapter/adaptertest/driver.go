// Package adaptertest provides a scripted in-memory Driver for exercising
// sessions and API surfaces without spawning real debug adapters.
package adaptertest

import (
	"context"
	"sync"

	"github.com/roasbeef/dap-relay/adapter"
)

// FakeDriver implements adapter.Driver entirely in memory. Zero value
// behavior is success everywhere; hooks override individual operations.
// Event and output callbacks are wired through Emit* helpers so tests can
// simulate adapter traffic.
type FakeDriver struct {
	Lang adapter.Language

	OnOutput adapter.OutputFunc
	OnEvent  adapter.EventFunc

	// LaunchErr, when set and LaunchHook is nil, fails Launch/Attach after
	// the configure callback has run. It is ignored when LaunchHook is set.
	LaunchErr error

	// LaunchHook, when set, runs in place of the default launch flow
	// (which invokes configure and succeeds).
	LaunchHook func(ctx context.Context, configure adapter.ConfigureFunc) error

	// Verdicts, when set, is returned from SetBreakpoints.
	Verdicts []adapter.Breakpoint

	// EvaluateHook, when set, answers Evaluate calls.
	EvaluateHook func(expression string) (adapter.EvalResult, error)

	mu          sync.Mutex
	connected   bool
	launched    bool
	disconnects int

	// SetBreakpointsCalls records (path, breakpoints) per call.
	SetBreakpointsCalls []BreakpointCall
}

// BreakpointCall records one SetBreakpoints invocation.
type BreakpointCall struct {
	Path        string
	Breakpoints []adapter.SourceBreakpoint
}

// New creates a fake driver with callbacks wired from opts, mirroring how
// real drivers are constructed by the registry.
func New(opts adapter.Options) *FakeDriver {
	return &FakeDriver{
		Lang:     "fake",
		OnOutput: opts.OnOutput,
		OnEvent:  opts.OnEvent,
	}
}

// Language implements adapter.Driver.
func (d *FakeDriver) Language() adapter.Language { return d.Lang }

// Connected implements adapter.Driver.
func (d *FakeDriver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Launched implements adapter.Driver.
func (d *FakeDriver) Launched() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launched
}

// Capabilities implements adapter.Driver.
func (d *FakeDriver) Capabilities() map[string]any {
	return map[string]any{"supportsConfigurationDoneRequest": true}
}

// Initialize implements adapter.Driver.
func (d *FakeDriver) Initialize(ctx context.Context) (map[string]any, error) {
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	return d.Capabilities(), nil
}

// Launch implements adapter.Driver.
func (d *FakeDriver) Launch(ctx context.Context, cfg adapter.LaunchConfig,
	configure adapter.ConfigureFunc) error {

	return d.launch(ctx, configure)
}

// Attach implements adapter.Driver.
func (d *FakeDriver) Attach(ctx context.Context, cfg adapter.AttachConfig,
	configure adapter.ConfigureFunc) error {

	return d.launch(ctx, configure)
}

func (d *FakeDriver) launch(ctx context.Context,
	configure adapter.ConfigureFunc) error {

	if d.LaunchHook != nil {
		if err := d.LaunchHook(ctx, configure); err != nil {
			return err
		}
	} else {
		if configure != nil {
			if err := configure(ctx); err != nil {
				return err
			}
		}
		if d.LaunchErr != nil {
			return d.LaunchErr
		}
	}

	d.mu.Lock()
	d.launched = true
	d.mu.Unlock()
	return nil
}

// Disconnect implements adapter.Driver. Idempotent.
func (d *FakeDriver) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
	d.connected = false
	d.launched = false
	return nil
}

// Terminate implements adapter.Driver.
func (d *FakeDriver) Terminate(ctx context.Context) error {
	return d.Disconnect(ctx, true)
}

// DisconnectCount reports how many times Disconnect ran.
func (d *FakeDriver) DisconnectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

// SetBreakpoints implements adapter.Driver, recording the call and
// echoing verified verdicts unless Verdicts overrides them.
func (d *FakeDriver) SetBreakpoints(ctx context.Context, sourcePath string,
	bps []adapter.SourceBreakpoint) ([]adapter.Breakpoint, error) {

	d.mu.Lock()
	d.SetBreakpointsCalls = append(d.SetBreakpointsCalls, BreakpointCall{
		Path:        sourcePath,
		Breakpoints: append([]adapter.SourceBreakpoint(nil), bps...),
	})
	d.mu.Unlock()

	if d.Verdicts != nil {
		return d.Verdicts, nil
	}

	verdicts := make([]adapter.Breakpoint, len(bps))
	for i, bp := range bps {
		verdicts[i] = adapter.Breakpoint{
			ID:       i + 1,
			Verified: true,
			Line:     bp.Line,
		}
	}
	return verdicts, nil
}

// SetFunctionBreakpoints implements adapter.Driver.
func (d *FakeDriver) SetFunctionBreakpoints(ctx context.Context,
	names []string) ([]adapter.Breakpoint, error) {

	verdicts := make([]adapter.Breakpoint, len(names))
	for i := range names {
		verdicts[i] = adapter.Breakpoint{ID: i + 1, Verified: true}
	}
	return verdicts, nil
}

// SetExceptionBreakpoints implements adapter.Driver.
func (d *FakeDriver) SetExceptionBreakpoints(ctx context.Context,
	filters []string) error {

	return nil
}

// Continue implements adapter.Driver.
func (d *FakeDriver) Continue(ctx context.Context, threadID int) error {
	return nil
}

// Pause implements adapter.Driver.
func (d *FakeDriver) Pause(ctx context.Context, threadID int) error {
	return nil
}

// StepOver implements adapter.Driver.
func (d *FakeDriver) StepOver(ctx context.Context, threadID int) error {
	return nil
}

// StepInto implements adapter.Driver.
func (d *FakeDriver) StepInto(ctx context.Context, threadID int) error {
	return nil
}

// StepOut implements adapter.Driver.
func (d *FakeDriver) StepOut(ctx context.Context, threadID int) error {
	return nil
}

// Threads implements adapter.Driver.
func (d *FakeDriver) Threads(ctx context.Context) ([]adapter.Thread, error) {
	return []adapter.Thread{{ID: 1, Name: "MainThread"}}, nil
}

// StackTrace implements adapter.Driver.
func (d *FakeDriver) StackTrace(ctx context.Context, threadID, startFrame,
	levels int) ([]adapter.StackFrame, error) {

	return []adapter.StackFrame{{
		ID:   1,
		Name: "main",
		Line: 1,
	}}, nil
}

// Scopes implements adapter.Driver.
func (d *FakeDriver) Scopes(ctx context.Context, frameID int) ([]adapter.Scope, error) {
	return []adapter.Scope{{Name: "Locals", VariablesReference: 100}}, nil
}

// Variables implements adapter.Driver.
func (d *FakeDriver) Variables(ctx context.Context, variablesReference,
	start, count int) ([]adapter.Variable, error) {

	return []adapter.Variable{{Name: "x", Value: "42", Type: "int"}}, nil
}

// Evaluate implements adapter.Driver.
func (d *FakeDriver) Evaluate(ctx context.Context, expression string,
	frameID int, evalContext string) (adapter.EvalResult, error) {

	if d.EvaluateHook != nil {
		return d.EvaluateHook(expression)
	}
	return adapter.EvalResult{Result: "ok", Type: "str"}, nil
}

// EmitOutput simulates debuggee output arriving from the adapter.
func (d *FakeDriver) EmitOutput(category, content string) {
	if d.OnOutput != nil {
		d.OnOutput(category, content)
	}
}

// EmitEvent simulates a typed adapter event.
func (d *FakeDriver) EmitEvent(kind adapter.EventKind, body map[string]any) {
	if d.OnEvent != nil {
		d.OnEvent(kind, body)
	}
}

// EmitStopped emits a stopped event for a thread with a reason.
func (d *FakeDriver) EmitStopped(threadID int, reason string) {
	d.EmitEvent(adapter.EventStopped, map[string]any{
		"threadId": float64(threadID),
		"reason":   reason,
	})
}

// EmitTerminated emits a terminated event.
func (d *FakeDriver) EmitTerminated() {
	d.EmitEvent(adapter.EventTerminated, map[string]any{})
}
