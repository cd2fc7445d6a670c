// Package errors classifies plotherd failures for the status server and
// the CLI.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind string

const (
	KindInvalid         Kind = "INVALID_ARGUMENT"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindExternalService Kind = "EXTERNAL_SERVICE_UNAVAILABLE"
	KindInternal        Kind = "INTERNAL_ERROR"
)

// Error is a classified failure with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches structured context, returning e.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func NewInvalidArgument(message string) *Error {
	return &Error{Kind: KindInvalid, Message: message}
}

func NewNotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func NewExternalServiceError(message string) *Error {
	return &Error{Kind: KindExternalService, Message: message}
}

// WrapInternal marks err as an internal failure. A nil err stays nil.
func WrapInternal(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
