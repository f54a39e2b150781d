// Package errors provides error handling utilities.
package errors

import (
	"fmt"
)

// Type identifies the category of error
type Type string

const (
	// TypeConfig indicates a configuration error: missing required option or
	// an unknown distribution method. Fatal at construction.
	TypeConfig Type = "CONFIG_ERROR"

	// TypeSchema indicates a required column is absent or of the wrong kind.
	// Fatal at the start of the affected phase.
	TypeSchema Type = "SCHEMA_ERROR"

	// TypeParse indicates an unparseable JSON payload, label payload, or
	// timestamp. Usually handled locally; surfaced only when fatal.
	TypeParse Type = "PARSE_ERROR"

	// TypeSink indicates a downstream writer failure.
	TypeSink Type = "SINK_ERROR"

	// TypeMatch indicates a match-rate failure when the caller has opted
	// into treating low match rates as fatal.
	TypeMatch Type = "MATCH_ERROR"

	// TypeNotSupported indicates an unsupported operation or mode
	TypeNotSupported Type = "NOT_SUPPORTED"

	// TypeInternal indicates an internal error
	TypeInternal Type = "INTERNAL_ERROR"
)

// Error represents a domain error with context
type Error struct {
	Type    Type                   `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *Error) Is(t Type) bool {
	return e.Type == t
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an error with formatted context
func Wrapf(errType Type, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, t Type) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == t
	}
	return false
}

// Config creates a configuration error
func Config(message string) *Error {
	return New(TypeConfig, message)
}

// Schema creates a schema error for a missing or mistyped column
func Schema(phase, column string) *Error {
	return Newf(TypeSchema, "phase %s: required column missing or invalid: %s", phase, column)
}

// Parse creates a parse error
func Parse(message string, cause error) *Error {
	return Wrap(TypeParse, message, cause)
}

// Sink creates a downstream sink error
func Sink(message string, cause error) *Error {
	return Wrap(TypeSink, message, cause)
}

// NotSupported creates a not supported error
func NotSupported(operation string) *Error {
	return Newf(TypeNotSupported, "operation not supported: %s", operation)
}

// Internal creates an internal error
func Internal(message string, cause error) *Error {
	return Wrap(TypeInternal, message, cause)
}
