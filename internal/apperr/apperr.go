// Package apperr defines the error taxonomy shared by the engine, the HTTP
// server and the CLI. Every error crossing a public boundary carries a
// machine-readable Kind and a human-readable message.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "validation"
	KindUnauthorized       Kind = "unauthorized"
	KindInvalidWeights     Kind = "invalid_weights"
	KindNotFound           Kind = "not_found"
	KindServiceUnavailable Kind = "service_unavailable"
	KindCorruptData        Kind = "corrupt_data"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "operation failed"
	}
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s (%s): %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s (%s): %s", e.Op, e.Kind, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Cause)
	default:
		return fmt.Sprintf("%s (%s)", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New builds an error of the given kind.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap attaches a kind to cause. A nil cause yields nil.
func Wrap(kind Kind, op, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

func Validation(op, format string, args ...any) error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

func NotFound(op, format string, args ...any) error {
	return New(KindNotFound, op, fmt.Sprintf(format, args...))
}

func Unavailable(op, msg string, cause error) error {
	return &Error{Kind: KindServiceUnavailable, Op: op, Message: msg, Cause: cause}
}

func CorruptData(op, msg string, cause error) error {
	return &Error{Kind: KindCorruptData, Op: op, Message: msg, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain. Context
// cancellation maps to KindCanceled; anything else unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the message safe to show a caller: the Message of
// the outermost *Error, never its cause.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	switch KindOf(err) {
	case KindCanceled:
		return "request canceled"
	default:
		return "internal error"
	}
}
