// Package brokkrerrors defines the typed error kinds shared across the
// broker, the agent, and the HTTP boundary. Every DAL, workqueue, and
// webhook operation returns errors wrapped in one of these kinds so a single
// place (internal/httpapi's error-rendering middleware) can map them to the
// right HTTP status without re-deriving policy per handler.
package brokkrerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates the error policies described in spec.md §7.
type Kind string

const (
	Unauthorized      Kind = "unauthorized"
	Forbidden         Kind = "forbidden"
	Validation        Kind = "validation"
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	ResourceExhausted Kind = "resource_exhausted"
	TransientExternal Kind = "transient_external"
	FatalIntegrity    Kind = "fatal_integrity"
)

// httpStatus maps each kind to the status the HTTP boundary renders.
var httpStatus = map[Kind]int{
	Unauthorized:      http.StatusUnauthorized,
	Forbidden:         http.StatusForbidden,
	Validation:        http.StatusBadRequest,
	NotFound:          http.StatusNotFound,
	Conflict:          http.StatusConflict,
	ResourceExhausted: http.StatusServiceUnavailable,
	TransientExternal: http.StatusBadGateway,
	FatalIntegrity:    http.StatusUnprocessableEntity,
}

// Error is a typed, wrapped error carrying a Kind and a caller-safe message.
// The message is what the HTTP boundary is permitted to echo back to a
// client; wrapped internal detail (via Unwrap) is for logs only.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// Status returns the HTTP status code for e's kind.
func (e *Error) Status() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs a typed error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a typed error that also carries an internal cause. cause's
// text is never included in Message — only in the full Error() string used
// for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, err: cause}
}

// Is reports whether err (or something it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise — callers treat ok=false as an unclassified internal error.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// SafeMessageOf returns the caller-safe Message of err if it is (or wraps)
// a *Error, and ok=false otherwise. Unlike Error(), it never includes a
// wrapped cause's text — that detail is for logs only.
func SafeMessageOf(err error) (string, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Message, true
	}
	return "", false
}

// StatusOf returns the HTTP status for err, defaulting to 500 for
// unclassified errors.
func StatusOf(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.Status()
	}
	return http.StatusInternalServerError
}

var (
	ErrNotFound      = New(NotFound, "not found")
	ErrAlreadyExists = New(Conflict, "already exists")
	ErrUnauthorized  = New(Unauthorized, "unauthorized")
	ErrForbidden     = New(Forbidden, "forbidden")
)
