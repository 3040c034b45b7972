// Package errors defines the transfer error taxonomy used throughout s3pipe.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is a transfer failure with a machine-readable code, a human-readable
// message and an optional underlying cause.
type Error struct {
	// Code is the taxonomy code (e.g., "TransferError", "ConfigError").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause so errors.As can reach provider errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code. This lets
// callers match against the sentinels below regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of the error with the given cause attached.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithMessage returns a copy of the error with a formatted message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Pre-defined errors for every failure class of a transfer.
var (
	// ErrConfig is returned when the destination is unspecified or a
	// configuration value is out of range.
	ErrConfig = &Error{
		Code:    "ConfigError",
		Message: "Invalid transfer configuration",
	}

	// ErrBackendInit is returned when the transfer backend could not be constructed.
	ErrBackendInit = &Error{
		Code:    "BackendInitError",
		Message: "Unable to initialize storage backend",
	}

	// ErrTransfer is returned when a part transfer failed.
	ErrTransfer = &Error{
		Code:    "TransferError",
		Message: "Part transfer failed",
	}

	// ErrCompletion is returned when the transfer could not be finalized.
	ErrCompletion = &Error{
		Code:    "CompletionError",
		Message: "Transfer finalization failed",
	}

	// ErrMap is returned when an input chunk could not be read.
	ErrMap = &Error{
		Code:    "MapError",
		Message: "Failed to map the buffer",
	}

	// ErrConfigFrozen is returned when configuration is written while a
	// transfer is running. The previous value is retained.
	ErrConfigFrozen = &Error{
		Code:    "ConfigFrozen",
		Message: "Configuration is frozen while streaming",
	}

	// ErrNotStarted is returned when data arrives before Start succeeded.
	ErrNotStarted = &Error{
		Code:    "NotStarted",
		Message: "Transfer has not been started",
	}
)

// IsFatal reports whether err belongs to a class that terminates the
// current transfer.
func IsFatal(err error) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return err != nil
	}
	switch e.Code {
	case ErrConfigFrozen.Code, ErrNotStarted.Code:
		return false
	}
	return true
}
