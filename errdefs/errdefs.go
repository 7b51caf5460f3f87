// Package errdefs defines the coded errors surfaced across the relay's
// boundaries. Every error that can reach a client carries a stable code
// string; callers at the HTTP/MCP boundary map codes to status codes
// without inspecting messages.
package errdefs

import (
	"errors"
	"fmt"
)

// Error codes surfaced over the relay boundary.
const (
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeSessionLimit        = "SESSION_LIMIT_REACHED"
	CodeInvalidSessionState = "INVALID_SESSION_STATE"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeAdapterNotFound     = "ADAPTER_NOT_FOUND"
	CodeDAPTimeout          = "DAP_TIMEOUT"
	CodeDAPConnection       = "DAP_CONNECTION"
	CodeDAPRequestFailed    = "DAP_REQUEST_FAILED"
	CodeLaunchFailed        = "LAUNCH_FAILED"
	CodeLaunchTimeout       = "LAUNCH_TIMEOUT"
	CodePersistWriteFailed  = "PERSIST_WRITE_FAILED"
	CodePersistInvalid      = "PERSIST_INVALID"
	CodeUnsupportedLanguage = "UNSUPPORTED_LANGUAGE"
)

// Error is a coded error with optional structured details.
type Error struct {
	ErrCode string
	Message string
	Details map[string]any

	// Underlying error, if any. Preserved for errors.Is/As chains.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a coded error.
func New(code, message string) *Error {
	return &Error{ErrCode: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{ErrCode: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error wrapping an underlying cause.
func Wrap(code string, cause error, message string) *Error {
	return &Error{ErrCode: code, Message: message, Cause: cause}
}

// WithDetail attaches a detail key/value and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Code extracts the error code from err, walking the wrap chain. Errors
// without a code report the empty string.
func Code(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.ErrCode
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code string) bool {
	return Code(err) == code
}

// SessionNotFound reports an unknown session id.
func SessionNotFound(sessionID string) *Error {
	return Newf(CodeSessionNotFound, "session %q not found", sessionID).
		WithDetail("session_id", sessionID)
}

// SessionLimit reports that the concurrent session cap is reached.
func SessionLimit(max int) *Error {
	return Newf(CodeSessionLimit,
		"maximum of %d concurrent sessions reached", max).
		WithDetail("max_sessions", max)
}

// InvalidSessionState reports an operation attempted in the wrong state.
func InvalidSessionState(sessionID, current string, required []string) *Error {
	return Newf(CodeInvalidSessionState,
		"session %q is in state %q, but operation requires: %v",
		sessionID, current, required).
		WithDetail("session_id", sessionID).
		WithDetail("current_state", current).
		WithDetail("required_states", required)
}

// AdapterNotFound reports a missing debug adapter executable. The message
// should include install instructions for the language.
func AdapterNotFound(language, instructions string) *Error {
	return Newf(CodeAdapterNotFound,
		"no debug adapter found for %s. %s", language, instructions).
		WithDetail("language", language)
}

// DAPTimeout reports a DAP request that exceeded its deadline.
func DAPTimeout(command string, seconds float64) *Error {
	return Newf(CodeDAPTimeout,
		"DAP request %q timed out after %.0fs", command, seconds).
		WithDetail("command", command)
}

// DAPConnection reports a failed or lost adapter connection.
func DAPConnection(reason string) *Error {
	return Newf(CodeDAPConnection, "adapter connection failed: %s", reason)
}

// DAPRequestFailed reports a non-success DAP response.
func DAPRequestFailed(command, message string) *Error {
	return Newf(CodeDAPRequestFailed, "%s failed: %s", command, message).
		WithDetail("command", command)
}

// LaunchFailed normalises any launch/attach failure. The underlying message
// is preserved verbatim.
func LaunchFailed(cause error) *Error {
	if IsCode(cause, CodeLaunchFailed) {
		var coded *Error
		errors.As(cause, &coded)
		return coded
	}
	return Wrap(CodeLaunchFailed, cause,
		fmt.Sprintf("failed to launch debug target: %v", cause))
}

// UnsupportedLanguage reports a language with no registered adapter.
func UnsupportedLanguage(language string, supported []string) *Error {
	return Newf(CodeUnsupportedLanguage,
		"language %q is not supported", language).
		WithDetail("language", language).
		WithDetail("supported", supported)
}
