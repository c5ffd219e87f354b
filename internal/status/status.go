// Package status defines the stable error taxonomy and the result envelope
// returned by every public engine operation.
package status

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindInvalidInput         Kind = "INVALID_INPUT"
	KindNotFound             Kind = "NOT_FOUND"
	KindLLMTransient         Kind = "LLM_TRANSIENT"
	KindLLMParse             Kind = "LLM_PARSE"
	KindGraphConstraint      Kind = "GRAPH_CONSTRAINT"
	KindGraphUnavailable     Kind = "GRAPH_UNAVAILABLE"
	KindCycle                Kind = "CYCLE"
	KindInsufficientEvidence Kind = "INSUFFICIENT_EVIDENCE"
	KindCancelled            Kind = "CANCELLED"
	KindInternal             Kind = "INTERNAL"
)

// Error carries a Kind alongside a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a status error.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Ef builds a status error with a formatted message.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the Kind from an error chain, defaulting to INTERNAL.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsRetryable reports whether an error kind is transient and worth retrying.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindLLMTransient, KindGraphUnavailable:
		return true
	}
	return false
}
