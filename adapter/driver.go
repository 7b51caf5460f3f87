package adapter

import (
	"context"
	"time"
)

// Language identifies which debugger family a driver speaks for.
type Language string

// Supported language tags. Aliases (typescript, node, rust, c, cpp) are
// normalised in the registry.
const (
	LangPython     Language = "python"
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
	LangNative     Language = "native"
)

// SourceBreakpoint is one requested breakpoint in a source file. JSON tags
// match the persisted breakpoints file format.
type SourceBreakpoint struct {
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hit_condition,omitempty"`
	LogMessage   string `json:"log_message,omitempty"`
	Enabled      bool   `json:"enabled"`
}

// Breakpoint is the adapter's verdict for one requested breakpoint.
type Breakpoint struct {
	ID       int    `json:"id,omitempty"`
	Verified bool   `json:"verified"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Thread is one thread (or goroutine) in the debuggee.
type Thread struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Source identifies the file behind a stack frame.
type Source struct {
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

// StackFrame is one frame of a thread's call stack. Line and column are
// 1-based, per the DAP wire contract.
type StackFrame struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Source *Source `json:"source,omitempty"`
	Line   int     `json:"line"`
	Column int     `json:"column"`
}

// Scope is a named group of variables within a frame.
type Scope struct {
	Name               string `json:"name"`
	VariablesReference int    `json:"variablesReference"`
	Expensive          bool   `json:"expensive"`
}

// Variable is a named value. VariablesReference, when non-zero, can be
// passed back to Variables to expand children. The relay never interprets
// Value.
type Variable struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
	IndexedVariables   int    `json:"indexedVariables,omitempty"`
	NamedVariables     int    `json:"namedVariables,omitempty"`
}

// EvalResult is the outcome of evaluating an expression in a frame.
type EvalResult struct {
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

// LaunchConfig is the language-agnostic launch form accepted at the relay
// boundary. Each driver promotes it to its adapter-specific argument
// schema; Extra carries options the common form has no field for and is
// merged into the promoted arguments verbatim.
type LaunchConfig struct {
	Program     string            `json:"program,omitempty"`
	Module      string            `json:"module,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	StopOnEntry bool              `json:"stop_on_entry,omitempty"`

	// StopOnException enables the adapter's uncaught-exception filter
	// during the configuration phase.
	StopOnException bool `json:"stop_on_exception,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// AttachConfig is the language-agnostic attach form.
type AttachConfig struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	ProcessID int    `json:"process_id,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// ConfigureFunc runs during the DAP configuration phase, between the
// adapter's `initialized` event and the client's configurationDone. It
// re-declares breakpoints and exception filters.
type ConfigureFunc func(ctx context.Context) error

// OutputFunc receives debuggee output. Invoked synchronously from the DAP
// reader; implementations must be non-blocking (an O(1) buffer append).
type OutputFunc func(category, content string)

// EventFunc receives typed debug events with the raw DAP event body
// decoded into an opaque map. Invoked synchronously from the DAP reader;
// implementations must be non-blocking.
type EventFunc func(kind EventKind, body map[string]any)

// Options configures driver construction. One driver serves exactly one
// session for its whole lifetime.
type Options struct {
	SessionID string

	// OnOutput and OnEvent fan adapter traffic back into the owning
	// session. Either may be nil.
	OnOutput OutputFunc
	OnEvent  EventFunc

	// ExecOverride short-circuits executable discovery with an explicit
	// adapter binary path.
	ExecOverride string

	// RequestTimeout bounds ordinary DAP requests; LaunchTimeout bounds
	// the launch/attach handshake. Zero means the package defaults.
	RequestTimeout time.Duration
	LaunchTimeout  time.Duration
}

// Driver is the uniform capability-typed interface over one debug adapter
// subprocess. Exactly one driver exists per session; drivers are not
// shared and are discarded on session termination.
type Driver interface {
	// Language reports the driver's language tag.
	Language() Language

	// Connected reports whether the DAP connection is established and
	// initialized.
	Connected() bool

	// Launched reports whether a debug target has been launched or
	// attached.
	Launched() bool

	// Capabilities returns the adapter capabilities recorded from the
	// initialize response.
	Capabilities() map[string]any

	// Initialize locates the adapter executable, spawns it, establishes
	// the DAP connection, and performs the DAP initialize request.
	Initialize(ctx context.Context) (map[string]any, error)

	// Launch starts a debug target. configure runs during the
	// configuration phase (see ConfigureFunc).
	Launch(ctx context.Context, cfg LaunchConfig, configure ConfigureFunc) error

	// Attach connects to a running process. configure runs during the
	// configuration phase.
	Attach(ctx context.Context, cfg AttachConfig, configure ConfigureFunc) error

	// Disconnect ends the debug session, optionally terminating the
	// debuggee, and tears down the subprocess. Idempotent.
	Disconnect(ctx context.Context, terminateDebuggee bool) error

	// Terminate is Disconnect with terminateDebuggee=true. Idempotent.
	Terminate(ctx context.Context) error

	SetBreakpoints(ctx context.Context, sourcePath string,
		bps []SourceBreakpoint) ([]Breakpoint, error)
	SetFunctionBreakpoints(ctx context.Context, names []string) ([]Breakpoint, error)
	SetExceptionBreakpoints(ctx context.Context, filters []string) error

	Continue(ctx context.Context, threadID int) error
	Pause(ctx context.Context, threadID int) error
	StepOver(ctx context.Context, threadID int) error
	StepInto(ctx context.Context, threadID int) error
	StepOut(ctx context.Context, threadID int) error

	Threads(ctx context.Context) ([]Thread, error)
	StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]StackFrame, error)
	Scopes(ctx context.Context, frameID int) ([]Scope, error)
	Variables(ctx context.Context, variablesReference, start, count int) ([]Variable, error)
	Evaluate(ctx context.Context, expression string, frameID int,
		evalContext string) (EvalResult, error)
}
