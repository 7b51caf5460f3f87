// Package mcp exposes the relay's debugging operations as MCP tools, so
// MCP-speaking agents can drive sessions without the HTTP surface.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/roasbeef/dap-relay/adapter"
	"github.com/roasbeef/dap-relay/session"
)

// CreateSessionArgs represents the arguments for creating a debug session.
type CreateSessionArgs struct {
	ProjectRoot string `json:"project_root"`
	Name        string `json:"name,omitempty"`
	Language    string `json:"language,omitempty"`
}

// SessionArgs represents the arguments for tools that only need a session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// LaunchProgramArgs represents the arguments for launching a program.
type LaunchProgramArgs struct {
	SessionID   string   `json:"session_id"`
	Program     string   `json:"program"`
	Args        []string `json:"args,omitempty"`
	WorkingDir  string   `json:"working_dir,omitempty"`
	StopOnEntry bool     `json:"stop_on_entry,omitempty"`
}

// SetBreakpointsArgs represents the arguments for setting breakpoints.
type SetBreakpointsArgs struct {
	SessionID string `json:"session_id"`
	File      string `json:"file"`
	Lines     []int  `json:"lines"`
	Condition string `json:"condition,omitempty"`
}

// ExecutionControlArgs represents the arguments for execution control
// commands.
type ExecutionControlArgs struct {
	SessionID string `json:"session_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
}

// GetStackFramesArgs represents the arguments for getting stack frames.
type GetStackFramesArgs struct {
	SessionID string `json:"session_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
}

// GetVariablesArgs represents the arguments for getting variables.
type GetVariablesArgs struct {
	SessionID          string `json:"session_id"`
	VariablesReference int    `json:"variables_reference"`
}

// EvaluateExpressionArgs represents the arguments for evaluating
// expressions.
type EvaluateExpressionArgs struct {
	SessionID  string `json:"session_id"`
	Expression string `json:"expression"`
	FrameID    int    `json:"frame_id,omitempty"`
}

// GetOutputArgs represents the arguments for reading captured output.
type GetOutputArgs struct {
	SessionID string `json:"session_id"`
	Since     int    `json:"since,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// DebugServer wraps the session manager as an MCP server.
type DebugServer struct {
	server  *server.MCPServer
	manager *session.Manager
}

// NewDebugServer creates a new MCP server for debugging operations.
func NewDebugServer(manager *session.Manager) *DebugServer {
	mcpServer := server.NewMCPServer(
		"Multi-Language Debug Relay",
		"1.0.0",
	)

	ds := &DebugServer{
		server:  mcpServer,
		manager: manager,
	}

	ds.registerTools()

	return ds
}

// Serve runs the MCP server over stdio until the client disconnects.
func (ds *DebugServer) Serve() error {
	return server.ServeStdio(ds.server)
}

// registerTools registers all debugging tools with the MCP server.
func (ds *DebugServer) registerTools() {
	ds.registerCreateSessionTool()
	ds.registerTerminateSessionTool()
	ds.registerLaunchProgramTool()
	ds.registerSetBreakpointsTool()

	ds.registerExecTool("debug_continue",
		"Continue execution from a paused breakpoint",
		(*session.Session).Continue)
	ds.registerExecTool("debug_pause",
		"Pause a running program",
		(*session.Session).Pause)
	ds.registerExecTool("debug_step_over",
		"Step over the next line without entering calls",
		(*session.Session).StepOver)
	ds.registerExecTool("debug_step_into",
		"Step into the next function call",
		(*session.Session).StepInto)
	ds.registerExecTool("debug_step_out",
		"Run until the current function returns",
		(*session.Session).StepOut)

	ds.registerGetThreadsTool()
	ds.registerGetStackFramesTool()
	ds.registerGetVariablesTool()
	ds.registerEvaluateExpressionTool()
	ds.registerGetOutputTool()
}

// errorResult renders an error as a tool failure without raising.
func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(fmt.Sprintf(format, args...)),
		},
		IsError: true,
	}
}

// jsonResult renders v as a JSON text payload.
func jsonResult(v any) *mcp.CallToolResult {
	encoded, err := json.Marshal(v)
	if err != nil {
		return errorResult("failed to encode result: %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(encoded))},
	}
}

func (ds *DebugServer) registerCreateSessionTool() {
	tool := mcp.NewTool("create_debug_session",
		mcp.WithDescription("Create a new debugging session for a project"),
		mcp.WithString("project_root", mcp.Required(),
			mcp.Description("Absolute path to the project root")),
		mcp.WithString("name",
			mcp.Description("Human-readable session name")),
		mcp.WithString("language",
			mcp.Description("Language to debug (python, go, javascript, native)")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args CreateSessionArgs) (*mcp.CallToolResult, error) {

		sess, err := ds.manager.Create(ctx, session.Config{
			ProjectRoot: args.ProjectRoot,
			Name:        args.Name,
			Language:    args.Language,
		})
		if err != nil {
			return errorResult("Failed to create session: %v", err), nil
		}

		return jsonResult(sess.ToInfo()), nil
	})

	ds.server.AddTool(tool, handler)
}

func (ds *DebugServer) registerTerminateSessionTool() {
	tool := mcp.NewTool("terminate_debug_session",
		mcp.WithDescription("Terminate a debugging session and its debuggee"),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Session identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args SessionArgs) (*mcp.CallToolResult, error) {

		if err := ds.manager.Terminate(ctx, args.SessionID); err != nil {
			return errorResult("Failed to terminate session: %v", err), nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(fmt.Sprintf(
					"Terminated session %s", args.SessionID)),
			},
		}, nil
	})

	ds.server.AddTool(tool, handler)
}

func (ds *DebugServer) registerLaunchProgramTool() {
	tool := mcp.NewTool("launch_program",
		mcp.WithDescription("Launch a program for debugging in a session"),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Session identifier")),
		mcp.WithString("program", mcp.Required(),
			mcp.Description("Path to the program to debug")),
		mcp.WithArray("args",
			mcp.Description("Command-line arguments for the program")),
		mcp.WithString("working_dir",
			mcp.Description("Working directory for the program")),
		mcp.WithBoolean("stop_on_entry",
			mcp.Description("Stop at the program's entry point")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args LaunchProgramArgs) (*mcp.CallToolResult, error) {

		sess, err := ds.manager.Get(args.SessionID)
		if err != nil {
			return errorResult("%v", err), nil
		}

		err = sess.Launch(ctx, adapter.LaunchConfig{
			Program:     args.Program,
			Args:        args.Args,
			Cwd:         args.WorkingDir,
			StopOnEntry: args.StopOnEntry,
		})
		if err != nil {
			return errorResult("Launch failed: %v", err), nil
		}

		return jsonResult(sess.ToInfo()), nil
	})

	ds.server.AddTool(tool, handler)
}

func (ds *DebugServer) registerSetBreakpointsTool() {
	tool := mcp.NewTool("set_breakpoints",
		mcp.WithDescription("Replace the breakpoints in a source file"),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Session identifier")),
		mcp.WithString("file", mcp.Required(),
			mcp.Description("Absolute path to the source file")),
		mcp.WithArray("lines", mcp.Required(),
			mcp.Description("Line numbers to break on (1-based)")),
		mcp.WithString("condition",
			mcp.Description("Condition applied to every breakpoint")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args SetBreakpointsArgs) (*mcp.CallToolResult, error) {

		sess, err := ds.manager.Get(args.SessionID)
		if err != nil {
			return errorResult("%v", err), nil
		}

		bps := make([]adapter.SourceBreakpoint, len(args.Lines))
		for i, line := range args.Lines {
			bps[i] = adapter.SourceBreakpoint{
				Line:      line,
				Condition: args.Condition,
				Enabled:   true,
			}
		}

		verdicts, err := sess.SetBreakpoints(ctx, args.File, bps)
		if err != nil {
			return errorResult("Failed to set breakpoints: %v", err), nil
		}
		if err := ds.manager.SaveBreakpoints(sess); err != nil {
			return errorResult("Failed to persist breakpoints: %v", err), nil
		}

		return jsonResult(map[string]any{
			"file":        args.File,
			"breakpoints": verdicts,
		}), nil
	})

	ds.server.AddTool(tool, handler)
}

// registerExecTool registers one execution-control tool dispatching to the
// given session method.
func (ds *DebugServer) registerExecTool(name, description string,
	op func(*session.Session, context.Context, int) error) {

	tool := mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id",
			mcp.Description("Thread to control (defaults to current)")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args ExecutionControlArgs) (*mcp.CallToolResult, error) {

		sess, err := ds.manager.Get(args.SessionID)
		if err != nil {
			return errorResult("%v", err), nil
		}

		if err := op(sess, ctx, args.ThreadID); err != nil {
			return errorResult("%s failed: %v", name, err), nil
		}

		return jsonResult(sess.ToInfo()), nil
	})

	ds.server.AddTool(tool, handler)
}

func (ds *DebugServer) registerGetThreadsTool() {
	tool := mcp.NewTool("get_threads",
		mcp.WithDescription("List the debuggee's threads"),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Session identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args SessionArgs) (*mcp.CallToolResult, error) {

		sess, err := ds.manager.Get(args.SessionID)
		if err != nil {
			return errorResult("%v", err), nil
		}

		threads, err := sess.Threads(ctx)
		if err != nil {
			return errorResult("Failed to get threads: %v", err), nil
		}

		return jsonResult(map[string]any{"threads": threads}), nil
	})

	ds.server.AddTool(tool, handler)
}

func (ds *DebugServer) registerGetStackFramesTool() {
	tool := mcp.NewTool("get_stack_frames",
		mcp.WithDescription("Get the call stack of a thread"),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id",
			mcp.Description("Thread to inspect (defaults to current)")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args GetStackFramesArgs) (*mcp.CallToolResult, error) {

		sess, err := ds.manager.Get(args.SessionID)
		if err != nil {
			return errorResult("%v", err), nil
		}

		frames, err := sess.StackTrace(ctx, args.ThreadID, 0, 20)
		if err != nil {
			return errorResult("Failed to get stack frames: %v", err), nil
		}

		return jsonResult(map[string]any{"frames": frames}), nil
	})

	ds.server.AddTool(tool, handler)
}

func (ds *DebugServer) registerGetVariablesTool() {
	tool := mcp.NewTool("get_variables",
		mcp.WithDescription("Expand a variables reference from a scope or variable"),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Session identifier")),
		mcp.WithNumber("variables_reference", mcp.Required(),
			mcp.Description("Reference from a scope or compound variable")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args GetVariablesArgs) (*mcp.CallToolResult, error) {

		sess, err := ds.manager.Get(args.SessionID)
		if err != nil {
			return errorResult("%v", err), nil
		}

		variables, err := sess.Variables(ctx, args.VariablesReference, 0, 0)
		if err != nil {
			return errorResult("Failed to get variables: %v", err), nil
		}

		return jsonResult(map[string]any{"variables": variables}), nil
	})

	ds.server.AddTool(tool, handler)
}

func (ds *DebugServer) registerEvaluateExpressionTool() {
	tool := mcp.NewTool("evaluate_expression",
		mcp.WithDescription("Evaluate an expression in a stack frame"),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Session identifier")),
		mcp.WithString("expression", mcp.Required(),
			mcp.Description("Expression to evaluate")),
		mcp.WithNumber("frame_id",
			mcp.Description("Stack frame context (0 for top frame)")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args EvaluateExpressionArgs) (*mcp.CallToolResult, error) {

		sess, err := ds.manager.Get(args.SessionID)
		if err != nil {
			return errorResult("%v", err), nil
		}

		result, err := sess.Evaluate(ctx, args.Expression, args.FrameID, "repl")
		if err != nil {
			return errorResult("Evaluation failed: %v", err), nil
		}

		return jsonResult(result), nil
	})

	ds.server.AddTool(tool, handler)
}

func (ds *DebugServer) registerGetOutputTool() {
	tool := mcp.NewTool("get_output",
		mcp.WithDescription("Read captured debuggee output"),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Session identifier")),
		mcp.WithNumber("since",
			mcp.Description("Return lines after this line number")),
		mcp.WithNumber("limit",
			mcp.Description("Maximum lines to return (default 1000)")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args GetOutputArgs) (*mcp.CallToolResult, error) {

		sess, err := ds.manager.Get(args.SessionID)
		if err != nil {
			return errorResult("%v", err), nil
		}

		limit := args.Limit
		if limit <= 0 {
			limit = 1000
		}

		return jsonResult(sess.Output().GetSince(args.Since, limit)), nil
	})

	ds.server.AddTool(tool, handler)
}
