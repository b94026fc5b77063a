package passport

import (
	"fmt"
	"net/http"
)

// Wire error codes exchanged between server and broker.
const (
	CodeInvalidSessionID = "invalid_session_id"
	CodeInvalidClientID  = "invalid_client_id"
	CodeNotAttached      = "not_attached"
	CodeUnauthorized     = "unauthorized"
)

// Error is a protocol-level failure with a machine-readable wire code and
// the HTTP status it travels with. The sentinel values below are matched
// with errors.Is; wrap them with fmt.Errorf("...: %w", err) to add context.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is the same protocol error. Two *Error values
// match on Code, so a wire-decoded error compares equal to its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

// WithMessage returns a copy of e carrying msg, for surfacing wire messages
// while staying errors.Is-comparable to the sentinel.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Status: e.Status, Message: msg}
}

var (
	// ErrInvalidClient indicates a misconfigured broker id or secret.
	ErrInvalidClient = &Error{Code: CodeInvalidClientID, Status: http.StatusForbidden, Message: "invalid client"}

	// ErrInvalidSessionID is the wire-level rejection of a session id,
	// covering both format and checksum failures.
	ErrInvalidSessionID = &Error{Code: CodeInvalidSessionID, Status: http.StatusForbidden, Message: "invalid session id"}

	// ErrNotAttached indicates the broker has no server-side session entry
	// and must run the attach flow before authenticating.
	ErrNotAttached = &Error{Code: CodeNotAttached, Status: http.StatusForbidden, Message: "client broker not attached"}

	// ErrUnauthorized indicates the session is attached but carries no
	// valid principal.
	ErrUnauthorized = &Error{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: "unauthorized"}
)

// In-process distinctions. These are narrower than the wire codes: on the
// wire a malformed sid and a checksum failure both travel as
// invalid_session_id, but callers inside the process can tell them apart.
var (
	// ErrInvalidSessionFormat indicates the session id does not parse.
	ErrInvalidSessionFormat = fmt.Errorf("invalid session id format: %w", ErrInvalidSessionID)

	// ErrChecksumMismatch indicates the session id parses but its checksum
	// does not verify against the broker's secret. Likely tampering or a
	// stale secret on one side.
	ErrChecksumMismatch = fmt.Errorf("session checksum mismatch: %w", ErrInvalidSessionID)
)

var (
	// ErrRequestFailed reports a transport-level failure (network error,
	// timeout, or an error body with no machine-readable code). Callers may
	// degrade gracefully, e.g. treat the user as logged out.
	ErrRequestFailed = &Error{Message: "request failed"}

	// ErrBadResponse reports a success response whose body is not valid
	// JSON. A non-JSON success body is a protocol violation, not a value.
	ErrBadResponse = &Error{Message: "response body is not valid JSON"}

	// ErrRedirectLoop reports that the attach redirect was retried past the
	// configured limit. Raised, never silently looped.
	ErrRedirectLoop = &Error{Status: http.StatusInternalServerError, Message: "attach redirect loop detected"}

	// ErrUnknownCommand reports a command name with no configured handler.
	ErrUnknownCommand = &Error{Status: http.StatusNotFound, Message: "command not found"}

	// ErrCommandNotCallable reports a configured command with a nil handler.
	ErrCommandNotCallable = &Error{Status: http.StatusBadRequest, Message: "command not callable"}
)

// ErrorResponse is the JSON error body sent by the server and decoded by
// the broker transport.
type ErrorResponse struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// FromWire maps a decoded error body to the typed error for its code.
// Unknown codes produce a generic *Error carrying the received status.
func FromWire(code, message string, status int) error {
	switch code {
	case CodeInvalidSessionID:
		return ErrInvalidSessionID.WithMessage(message)
	case CodeInvalidClientID:
		return ErrInvalidClient.WithMessage(message)
	case CodeNotAttached:
		return ErrNotAttached.WithMessage(message)
	case CodeUnauthorized:
		return ErrUnauthorized.WithMessage(message)
	default:
		return &Error{Status: status, Message: message}
	}
}
