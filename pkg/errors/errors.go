// Package errors provides the error type shared by the voice bridge components.
//
// ContextualError records which component failed, what it was doing, and how
// the failure is classified. The classification drives recovery: transient
// device errors are retried inside the owning pipe, fatal device errors and
// playback stalls are escalated to the session controller, link errors trigger
// reconnects, and malformed inbound payloads are logged and dropped.
//
// Usage:
//
//	err := errors.New("capture", "Start", spawnErr).WithKind(errors.KindFatalDevice)
//	if errors.IsKind(err, errors.KindFatalDevice) { ... }
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for recovery decisions.
type Kind string

const (
	// KindUnknown is the zero classification.
	KindUnknown Kind = ""
	// KindTransientDevice is a recoverable capture/render warning (e.g. format negotiation).
	KindTransientDevice Kind = "transient_device"
	// KindFatalDevice is an unexpected process exit or a spawn failure.
	KindFatalDevice Kind = "fatal_device"
	// KindLink is a conversation or handset channel error or close.
	KindLink Kind = "link"
	// KindMalformed is an unparsable inbound payload.
	KindMalformed Kind = "malformed"
	// KindPlaybackStall means the sink stopped accepting data without closing.
	KindPlaybackStall Kind = "playback_stall"
)

// ContextualError is a structured error type that provides consistent context
// about where and why an error occurred.
type ContextualError struct {
	// Component identifies the module that produced the error (e.g. "capture", "playback", "openai").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// Kind is the recovery classification.
	Kind Kind

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)

	if e.Kind != KindUnknown {
		base += fmt.Sprintf(" (%s)", e.Kind)
	}

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// WithKind sets the recovery classification.
func (e *ContextualError) WithKind(kind Kind) *ContextualError {
	e.Kind = kind
	return e
}

// WithDetails sets the details map.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}

// KindOf returns the classification of the outermost ContextualError in the
// chain that carries one, or KindUnknown.
func KindOf(err error) Kind {
	for err != nil {
		var ce *ContextualError
		if !stderrors.As(err, &ce) {
			return KindUnknown
		}
		if ce.Kind != KindUnknown {
			return ce.Kind
		}
		err = ce.Cause
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
