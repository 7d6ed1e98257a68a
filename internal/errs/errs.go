// Package errs defines the stable error taxonomy shared by the daemon,
// gateway, router, and policy layers.
package errs

import "fmt"

// Code is a stable string identifier for a class of failure. Codes are part
// of the wire protocol (they appear in response/error frames) and must not
// be renamed once shipped.
type Code string

const (
	ConfigInvalid     Code = "ConfigInvalid"
	AuthFailed        Code = "AuthFailed"
	NotConnected      Code = "NotConnected"
	SessionNotFound   Code = "SessionNotFound"
	SessionBusy       Code = "SessionBusy"
	PolicyDenied      Code = "PolicyDenied"
	ToolError         Code = "ToolError"
	ToolTimeout       Code = "ToolTimeout"
	CircuitOpen       Code = "CircuitOpen"
	PrivacyViolation  Code = "PrivacyViolation"
	RateLimited       Code = "RateLimited"
	BackendError      Code = "BackendError"
	ContextOverflow   Code = "ContextOverflow"
	MaxIterations     Code = "MaxIterations"
	DoomLoop          Code = "DoomLoop"
	Internal          Code = "Internal"
	OutsideRoot       Code = "OutsideRoot"
	NotFound          Code = "NotFound"
	IoError           Code = "IoError"
	Busy              Code = "Busy"
	InvalidRequest    Code = "InvalidRequest"
)

// Error wraps a Code with a human message and an optional cause, mirroring
// the ProviderError shape already used in internal/provider/resolver.go.
type Error struct {
	Code    Code
	Message string
	Tool    string // set for tool-scoped errors; empty otherwise
	ToolID  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Tool != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (tool=%s id=%s): %v", e.Code, e.Message, e.Tool, e.ToolID, e.Cause)
		}
		return fmt.Sprintf("%s: %s (tool=%s id=%s)", e.Code, e.Message, e.Tool, e.ToolID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error around a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithTool attaches tool attribution to an existing error, following the
// "tool name and identifier" requirement for user-visible tool failures.
func WithTool(code Code, message, tool, toolID string, cause error) *Error {
	return &Error{Code: code, Message: message, Tool: tool, ToolID: toolID, Cause: cause}
}

// Is reports whether err is an *Error carrying the given code.
func Is(err error, code Code) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Code == code
}

// Fatal reports whether a code tears down the connection/process rather
// than surfacing as a response or tool_result, per the propagation rule:
// only handshake failures, ConfigInvalid, and resource exhaustion are fatal.
func Fatal(code Code) bool {
	switch code {
	case ConfigInvalid, AuthFailed:
		return true
	default:
		return false
	}
}
