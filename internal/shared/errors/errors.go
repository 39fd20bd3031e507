// Package errors defines the error kinds the core returns to its callers
// and the helpers used to classify and propagate them.
package errors

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds surfaced to HTTP callers.
type Kind string

const (
	KindValidation        Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindUnauthenticated   Kind = "unauthenticated"
	KindForbidden         Kind = "forbidden"
	KindInternal          Kind = "internal"
)

// Sentinel errors. Every component error wraps one of these via errors.Is,
// never a bare string, so internal/httpapi can classify it without knowing
// which component produced it.
var (
	ErrValidation        = errors.New("invalid_input")
	ErrNotFound          = errors.New("not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrConflict          = errors.New("conflict")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrInternal          = errors.New("internal")
)

// coreError carries a sentinel plus a human-readable detail message.
type coreError struct {
	sentinel error
	detail   string
	cause    error
}

func (e *coreError) Error() string {
	if e.detail == "" {
		return e.sentinel.Error()
	}
	return e.detail
}

func (e *coreError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.sentinel
}

// Is reports whether target matches the wrapped sentinel, so errors.Is(err,
// ErrNotFound) works regardless of which constructor produced err.
func (e *coreError) Is(target error) bool {
	return target == e.sentinel
}

func newErr(sentinel error, format string, args ...any) error {
	return &coreError{sentinel: sentinel, detail: fmt.Sprintf(format, args...)}
}

// Validation wraps ErrValidation with a message describing the violated field.
func Validation(format string, args ...any) error { return newErr(ErrValidation, format, args...) }

// NotFound wraps ErrNotFound for an entity of the given kind/id invisible under the current tenant.
func NotFound(entity, id string) error {
	return newErr(ErrNotFound, "%s %q not found", entity, id)
}

// InvalidTransition wraps ErrInvalidTransition describing the rejected transition.
func InvalidTransition(from, to string) error {
	return newErr(ErrInvalidTransition, "cannot transition from %q to %q", from, to)
}

// Conflict wraps ErrConflict with a message.
func Conflict(format string, args ...any) error { return newErr(ErrConflict, format, args...) }

// Internal wraps ErrInternal, preserving cause for logging but never leaking it to callers.
func Internal(cause error, context string) error {
	return &coreError{sentinel: ErrInternal, detail: context, cause: cause}
}

// KindOf classifies err into one of the Kind constants, defaulting to KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}
