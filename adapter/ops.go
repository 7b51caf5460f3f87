package adapter

import (
	"context"
	"encoding/json"
)

// wireBreakpoint is the camelCase shape setBreakpoints puts on the wire.
type wireBreakpoint struct {
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
	LogMessage   string `json:"logMessage,omitempty"`
}

// SetBreakpoints replaces the breakpoints for one source file and returns
// the adapter's verdicts. Disabled breakpoints are not sent.
func (p *procAdapter) SetBreakpoints(ctx context.Context, sourcePath string,
	bps []SourceBreakpoint) ([]Breakpoint, error) {

	client, err := p.requireClient()
	if err != nil {
		return nil, err
	}

	wire := make([]wireBreakpoint, 0, len(bps))
	for _, bp := range bps {
		if !bp.Enabled {
			continue
		}
		wire = append(wire, wireBreakpoint{
			Line:         bp.Line,
			Column:       bp.Column,
			Condition:    bp.Condition,
			HitCondition: bp.HitCondition,
			LogMessage:   bp.LogMessage,
		})
	}

	body, err := client.Send(ctx, "setBreakpoints", map[string]any{
		"source":      map[string]any{"path": sourcePath},
		"breakpoints": wire,
	}, 0)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Breakpoints []Breakpoint `json:"breakpoints"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Breakpoints, nil
}

// SetFunctionBreakpoints sets breakpoints on function names.
func (p *procAdapter) SetFunctionBreakpoints(ctx context.Context,
	names []string) ([]Breakpoint, error) {

	client, err := p.requireClient()
	if err != nil {
		return nil, err
	}

	bps := make([]map[string]any, len(names))
	for i, name := range names {
		bps[i] = map[string]any{"name": name}
	}

	body, err := client.Send(ctx, "setFunctionBreakpoints", map[string]any{
		"breakpoints": bps,
	}, 0)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Breakpoints []Breakpoint `json:"breakpoints"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Breakpoints, nil
}

// SetExceptionBreakpoints configures the adapter's exception filters.
func (p *procAdapter) SetExceptionBreakpoints(ctx context.Context,
	filters []string) error {

	client, err := p.requireClient()
	if err != nil {
		return err
	}

	if filters == nil {
		filters = []string{}
	}
	_, err = client.Send(ctx, "setExceptionBreakpoints", map[string]any{
		"filters": filters,
	}, 0)
	return err
}

// Continue resumes execution of the debugged program.
func (p *procAdapter) Continue(ctx context.Context, threadID int) error {
	return p.threadCommand(ctx, "continue", threadID)
}

// Pause interrupts a running program.
func (p *procAdapter) Pause(ctx context.Context, threadID int) error {
	return p.threadCommand(ctx, "pause", threadID)
}

// StepOver executes the next line without entering function calls.
func (p *procAdapter) StepOver(ctx context.Context, threadID int) error {
	return p.threadCommand(ctx, "next", threadID)
}

// StepInto steps into function calls.
func (p *procAdapter) StepInto(ctx context.Context, threadID int) error {
	return p.threadCommand(ctx, "stepIn", threadID)
}

// StepOut continues until the current function returns.
func (p *procAdapter) StepOut(ctx context.Context, threadID int) error {
	return p.threadCommand(ctx, "stepOut", threadID)
}

func (p *procAdapter) threadCommand(ctx context.Context, command string,
	threadID int) error {

	client, err := p.requireClient()
	if err != nil {
		return err
	}
	_, err = client.Send(ctx, command, map[string]any{
		"threadId": threadID,
	}, 0)
	return err
}

// Threads lists the debuggee's threads.
func (p *procAdapter) Threads(ctx context.Context) ([]Thread, error) {
	client, err := p.requireClient()
	if err != nil {
		return nil, err
	}

	body, err := client.Send(ctx, "threads", map[string]any{}, 0)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Threads []Thread `json:"threads"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Threads, nil
}

// StackTrace returns up to levels frames of a thread's call stack.
func (p *procAdapter) StackTrace(ctx context.Context, threadID, startFrame,
	levels int) ([]StackFrame, error) {

	client, err := p.requireClient()
	if err != nil {
		return nil, err
	}

	body, err := client.Send(ctx, "stackTrace", map[string]any{
		"threadId":   threadID,
		"startFrame": startFrame,
		"levels":     levels,
	}, 0)
	if err != nil {
		return nil, err
	}

	var resp struct {
		StackFrames []StackFrame `json:"stackFrames"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.StackFrames, nil
}

// Scopes returns the variable scopes of a frame.
func (p *procAdapter) Scopes(ctx context.Context, frameID int) ([]Scope, error) {
	client, err := p.requireClient()
	if err != nil {
		return nil, err
	}

	body, err := client.Send(ctx, "scopes", map[string]any{
		"frameId": frameID,
	}, 0)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Scopes []Scope `json:"scopes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Scopes, nil
}

// Variables expands a variables reference, optionally paged.
func (p *procAdapter) Variables(ctx context.Context, variablesReference,
	start, count int) ([]Variable, error) {

	client, err := p.requireClient()
	if err != nil {
		return nil, err
	}

	args := map[string]any{"variablesReference": variablesReference}
	if start > 0 {
		args["start"] = start
	}
	if count > 0 {
		args["count"] = count
	}

	body, err := client.Send(ctx, "variables", args, 0)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Variables []Variable `json:"variables"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Variables, nil
}

// Evaluate evaluates an expression, optionally in a frame, in the given
// DAP context ("watch", "repl", "hover").
func (p *procAdapter) Evaluate(ctx context.Context, expression string,
	frameID int, evalContext string) (EvalResult, error) {

	client, err := p.requireClient()
	if err != nil {
		return EvalResult{}, err
	}

	args := map[string]any{
		"expression": expression,
		"context":    evalContext,
	}
	if frameID != 0 {
		args["frameId"] = frameID
	}

	body, err := client.Send(ctx, "evaluate", args, 0)
	if err != nil {
		return EvalResult{}, err
	}

	var result EvalResult
	if err := json.Unmarshal(body, &result); err != nil {
		return EvalResult{}, err
	}
	return result, nil
}
