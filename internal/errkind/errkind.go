// Package errkind defines the error-kind taxonomy shared across the daemon's
// subsystems. Every subsystem boundary translates low-level errors
// (driver errors, exec.ExitError, os.PathError) into one of these kinds so
// callers can branch on errors.Is without depending on a specific subsystem's
// concrete error type.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies one of the daemon's error categories.
type Kind string

const (
	Validation         Kind = "validation"
	State              Kind = "state"
	NotFound           Kind = "not_found"
	StorageUnavailable Kind = "storage_unavailable"
	Vcs                Kind = "vcs"
	BackendUnavailable Kind = "backend_unavailable"
	Timeout            Kind = "timeout"
	Conflict           Kind = "conflict"
	Internal           Kind = "internal"
)

// sentinel values so callers can do errors.Is(err, errkind.ErrNotFound) etc.
// without constructing an Error themselves.
var (
	ErrValidation         = &Error{Kind: Validation}
	ErrState              = &Error{Kind: State}
	ErrNotFound           = &Error{Kind: NotFound}
	ErrStorageUnavailable = &Error{Kind: StorageUnavailable}
	ErrVcs                = &Error{Kind: Vcs}
	ErrBackendUnavailable = &Error{Kind: BackendUnavailable}
	ErrTimeout            = &Error{Kind: Timeout}
	ErrConflict           = &Error{Kind: Conflict}
	ErrInternal           = &Error{Kind: Internal}
)

// Error is a typed error carrying one of the kinds above plus a human-readable
// message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause == nil {
		return string(e.Kind)
	}
	if e.Cause != nil {
		if e.Message == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so sentinel
// comparisons (errors.Is(err, errkind.ErrNotFound)) work regardless of
// Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap translates cause into an Error of the given kind, preserving cause via
// %w-style unwrapping.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, else Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// ExitCode maps a Kind to the daemon's process exit code convention.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case Validation, Vcs, Conflict:
		return 1
	case State, NotFound:
		return 2
	default:
		return 64
	}
}
