package model

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode categorizes a HostError for programmatic handling by whatever
// external layer (CDP domain actor, REPL, tests) is driving this host.
type ErrorCode string

const (
	CodeConnectError           ErrorCode = "CONNECT_ERROR"
	CodeInitializationTimeout  ErrorCode = "INITIALIZATION_TIMEOUT"
	CodeSourceUnavailable      ErrorCode = "SOURCE_UNAVAILABLE"
	CodeJdwpError              ErrorCode = "JDWP_ERROR"
	CodeEvaluationError        ErrorCode = "EVALUATION_ERROR"
	CodeIllegalState           ErrorCode = "ILLEGAL_STATE"
	CodeUnknownObject          ErrorCode = "UNKNOWN_OBJECT"
	CodeVMDisconnect           ErrorCode = "VM_DISCONNECT"
)

// HostError is a structured error carrying a machine-readable code, a
// human-readable message, and an optional actionable hint, following the
// same shape as the debug-adapter errors this design is grounded on.
type HostError struct {
	Code    ErrorCode
	Message string
	Hint    string
	Details map[string]any
	Cause   error
}

func (e *HostError) Error() string {
	if e.Hint == "" {
		return e.Message
	}
	return fmt.Sprintf("%s | hint: %s", e.Message, e.Hint)
}

func (e *HostError) Unwrap() error { return e.Cause }

// WithDetails attaches a diagnostic key/value pair and returns the receiver
// for chaining.
func (e *HostError) WithDetails(key string, value any) *HostError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the wrapped error and returns the receiver for chaining.
func (e *HostError) WithCause(err error) *HostError {
	e.Cause = err
	return e
}

// ConnectError reports a failed JDWP socket-attach.
func ConnectError(addr string, err error) *HostError {
	he := &HostError{
		Code:    CodeConnectError,
		Message: fmt.Sprintf("could not attach to debug target at %s: %v", addr, err),
		Hint:    "Ensure the target JVM was launched with -agentlib:jdwp=transport=dt_socket,server=y,suspend=n,address=" + addr,
		Cause:   err,
	}
	return he.WithDetails("address", addr)
}

// InitializationTimeout reports that class loading never quiesced.
func InitializationTimeout(observed int) *HostError {
	he := &HostError{
		Code:    CodeInitializationTimeout,
		Message: "class-prepare events have not quiesced",
		Hint:    "This is retried indefinitely; if it persists the target may still be starting up.",
	}
	return he.WithDetails("classPrepareCount", observed)
}

// SourceUnavailable reports a script class whose source could not be
// recovered after exhausting the retry budget.
func SourceUnavailable(className string, attempts int) *HostError {
	he := &HostError{
		Code:    CodeSourceUnavailable,
		Message: fmt.Sprintf("could not recover source for %s after %d attempts", className, attempts),
		Hint:    "The reflective Source.data.array field never populated; the class is dropped.",
	}
	return he.WithDetails("class", className)
}

// JdwpError wraps a raw JDWP error code returned by the target VM.
func JdwpError(op string, code int) *HostError {
	he := &HostError{
		Code:    CodeJdwpError,
		Message: fmt.Sprintf("jdwp error during %s: code %d", op, code),
		Hint:    "See JDWP ErrorCode constants for the meaning of this code.",
	}
	return he.WithDetails("operation", op).WithDetails("errorCode", code)
}

// EvaluationError wraps a failed user-expression evaluation. This is never
// fatal to the session; it is returned to the caller as data.
func EvaluationError(expr string, err error) *HostError {
	he := &HostError{
		Code:    CodeEvaluationError,
		Message: fmt.Sprintf("evaluation of %q failed: %v", expr, err),
		Hint:    "Check the expression syntax and that referenced locals are still in scope.",
		Cause:   err,
	}
	return he.WithDetails("expression", expr)
}

// IllegalState reports an operation that requires a pause when there is
// none, or similar state-machine violation.
func IllegalState(op string) *HostError {
	he := &HostError{
		Code:    CodeIllegalState,
		Message: fmt.Sprintf("%s requires the target to be paused", op),
		Hint:    "Call resume/step first if you meant to run, or wait for HitBreakpoint.",
	}
	return he.WithDetails("operation", op)
}

// UnknownObject reports a remote-object id lookup that missed, either
// because it never existed or because it belonged to a prior pause.
func UnknownObject(id string) *HostError {
	he := &HostError{
		Code:    CodeUnknownObject,
		Message: fmt.Sprintf("object id %q is unknown in the current pause", id),
		Hint:    "Object ids are only valid for the pause in which they were issued.",
	}
	return he.WithDetails("objectId", id)
}

// VMDisconnect reports that the target VM went away.
func VMDisconnect(err error) *HostError {
	return &HostError{
		Code:    CodeVMDisconnect,
		Message: "the debug target disconnected",
		Hint:    "The event stream has completed; further calls will fail as illegal state.",
		Cause:   err,
	}
}

// FromError coerces any error into a *HostError, preserving one if it
// already is one.
func FromError(err error) *HostError {
	var he *HostError
	if stderrors.As(err, &he) {
		return he
	}
	return &HostError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Cause:   err,
	}
}
