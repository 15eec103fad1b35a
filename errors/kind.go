package errors

import "fmt"

// Kind classifies an error by how the agent loop recovers from it.
type Kind string

const (
	// KindTransport covers an unreachable inference service or a malformed
	// response. It aborts the current user turn only.
	KindTransport Kind = "transport"

	// KindProtocol covers unexpected event ordering, index reuse or kind
	// mismatches in a stream, and conversation invariant violations.
	KindProtocol Kind = "protocol"

	// KindToolExecution is a tool whose Execute returned an error.
	KindToolExecution Kind = "tool_execution"

	// KindToolNotFound is a request for a tool that is not registered.
	KindToolNotFound Kind = "tool_not_found"

	// KindInputParse is tool input that did not parse at block close.
	KindInputParse Kind = "input_parse"
)

// Error is an error tagged with a Kind.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Transport wraps an inference service failure.
func Transport(cause error, format string, a ...interface{}) *Error {
	return &Error{Kind: KindTransport, Msg: fmt.Sprintf(format, a...), Cause: cause}
}

// Protocol reports a stream or conversation anomaly.
func Protocol(format string, a ...interface{}) *Error {
	return &Error{Kind: KindProtocol, Msg: fmt.Sprintf(format, a...)}
}

// ToolExecution wraps the error returned by a tool.
func ToolExecution(name string, cause error) *Error {
	return &Error{Kind: KindToolExecution, Msg: fmt.Sprintf("tool %s failed", name), Cause: cause}
}

// ToolNotFound reports an unregistered tool. Its message is the fixed
// diagnostic the model sees.
func ToolNotFound(name string) *Error {
	return &Error{Kind: KindToolNotFound, Msg: "tool not found: " + name}
}

// InputParse reports tool input that is not a JSON object.
func InputParse(name string, cause error) *Error {
	return &Error{Kind: KindInputParse, Msg: fmt.Sprintf("invalid input for tool %s", name), Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
