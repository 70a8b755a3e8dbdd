// Package reqerr defines the error-kind taxonomy shared by every
// reqbroker component. HTTP frontends and other edges map a Kind to a
// transport-specific status; internal callers use errors.Is against the
// sentinel Kind values below.
package reqerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the request store, broker, worker and
// collection dispatch report failure, independent of any transport.
type Kind int

const (
	// Unknown is the zero value; treat it as an unclassified internal error.
	Unknown Kind = iota

	// InvalidArgument means the caller supplied a malformed request
	// (bad coercion input, bad filter combination, ...).
	InvalidArgument

	// Unauthorized means the caller did not present valid credentials.
	Unauthorized

	// Forbidden means the caller is known but not allowed to perform the
	// operation (wrong role, wrong owner).
	Forbidden

	// NotFound means the referenced request/resource does not exist.
	NotFound

	// Conflict means the operation can't proceed given current state
	// (e.g. adding a request whose ID already exists).
	Conflict

	// ServiceUnavailable means a downstream dependency (queue, staging,
	// store) is not currently usable.
	ServiceUnavailable

	// Internal is an unexpected failure with no more specific kind.
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case ServiceUnavailable:
		return "service_unavailable"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind, following the exception
// hierarchy in the original implementation's exceptions module
// (BadRequest/UnauthorizedRequest/ForbiddenRequest/NotFound/Conflict/
// ServiceUnavailable), re-expressed without exceptions.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, so callers
// can write errors.Is(err, reqerr.New(reqerr.NotFound, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error,
// otherwise returns Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

var (
	// ErrNotFound is a bare sentinel usable with errors.Is when callers
	// don't need a message, mirroring the teacher's ErrJobLost-style
	// sentinel pattern.
	ErrNotFound = New(NotFound, "not found")
	// ErrConflict is a bare Conflict sentinel.
	ErrConflict = New(Conflict, "conflict")
	// ErrForbidden is a bare Forbidden sentinel.
	ErrForbidden = New(Forbidden, "forbidden")
	// ErrUnauthorized is a bare Unauthorized sentinel.
	ErrUnauthorized = New(Unauthorized, "unauthorized")
)
