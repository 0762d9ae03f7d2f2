// Package estuaryerr defines the error taxonomy surfaced to callers of the
// fanout core (spec §7). Every Error carries a Code so callers can branch
// on taxonomy without string matching, while still composing with
// github.com/pkg/errors for wrapping and cause inspection.
package estuaryerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is one of the taxonomy members named in spec §7.
type Code string

const (
	// SourceNotFound: subscribe referenced a source that does not exist.
	SourceNotFound Code = "SOURCE_NOT_FOUND"
	// ContentTypeMismatch: estuary pre-existed with a different content-type.
	ContentTypeMismatch Code = "CONTENT_TYPE_MISMATCH"
	// Validation: malformed id or bad payload framing.
	Validation Code = "VALIDATION"
	// UpstreamWriteFailed: stream-core rejected the source append.
	UpstreamWriteFailed Code = "UPSTREAM_WRITE_FAILED"
	// Internal: unexpected failure, logged with context.
	Internal Code = "INTERNAL"
)

// Error is the taxonomy-tagged error type returned across package
// boundaries in this core.
type Error struct {
	Code Code
	msg  string
	// cause is the wrapped lower-level error, if any.
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As keep working.
func (e *Error) Unwrap() error { return e.cause }

// New builds a new taxonomy error with no wrapped cause.
func New(code Code, msg string, args ...interface{}) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(msg, args...)}
}

// Wrap builds a new taxonomy error around a lower-level cause, the way
// consumer/resolver.go in the teacher repo wraps Etcd/allocator failures
// with github.com/pkg/errors context.
func Wrap(code Code, cause error, msg string, args ...interface{}) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(msg, args...), cause: errors.WithStack(cause)}
}

// CodeOf extracts the Code of err if it is (or wraps) an *Error, else
// returns Internal as the conservative default.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
