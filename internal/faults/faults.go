// ABOUTME: Typed gateway errors with a Kind used to pick the wire outcome
// ABOUTME: Sentinels for every terminal failure a streaming call can hit

package faults

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAdmissionDenied
	KindRateExceeded
	KindInterrupted
	KindClientCancelled
	KindIdleTimeout
	KindBackendTimeout
	KindBackendUnavailable
	KindShuttingDown
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindValidation:         "validation",
	KindAdmissionDenied:    "admission_denied",
	KindRateExceeded:       "rate_exceeded",
	KindInterrupted:        "interrupted",
	KindClientCancelled:    "client_cancelled",
	KindIdleTimeout:        "idle_timeout",
	KindBackendTimeout:     "backend_timeout",
	KindBackendUnavailable: "backend_unavailable",
	KindShuttingDown:       "shutting_down",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a gateway failure with a classification Kind.
type Error struct {
	Kind    Kind   // Failure class, drives the wire status
	Reason  string // Machine-readable reason; defaults to the policy reason for Kind
	Message string // Client-safe description
	Cause   error  // Wrapped underlying error, never sent to clients
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error of the same Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation creates a validation failure for a malformed request.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Sentinels matched with errors.Is. They compare by Kind, so any *Error of the
// same Kind matches.
var (
	ErrValidation         = New(KindValidation, "invalid request")
	ErrStreamLimit        = New(KindAdmissionDenied, "concurrent stream limit reached")
	ErrRateLimit          = New(KindRateExceeded, "message rate limit exceeded")
	ErrInterrupted        = New(KindInterrupted, "session interrupted")
	ErrClientCancelled    = New(KindClientCancelled, "client cancelled the call")
	ErrIdleTimeout        = New(KindIdleTimeout, "session idle timeout")
	ErrBackendTimeout     = New(KindBackendTimeout, "generation backend timed out")
	ErrBackendUnavailable = New(KindBackendUnavailable, "generation backend unavailable")
	ErrShuttingDown       = New(KindShuttingDown, "server is shutting down")
)

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}
