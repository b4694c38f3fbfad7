// Package errors provides the workflow error taxonomy and error handling utilities
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific error type
type ErrorCode int

const (
	ErrUnknown ErrorCode = iota

	// Graph-build time errors, fatal before any execution
	ErrValidation
	ErrDependencyCycle
	ErrResourceConflict

	// Node-level errors, contained to the node and its dependents
	ErrExecution
	ErrTimeout
	ErrRetryExhausted
	ErrCancelled

	// Driver-level causes
	ErrNotFound
	ErrPermission
	ErrIO
	ErrTransientIO
	ErrConnection
	ErrContainer
)

var codeNames = map[ErrorCode]string{
	ErrUnknown:          "unknown",
	ErrValidation:       "validation",
	ErrDependencyCycle:  "dependency_cycle",
	ErrResourceConflict: "resource_conflict",
	ErrExecution:        "execution",
	ErrTimeout:          "timeout",
	ErrRetryExhausted:   "retry_exhausted",
	ErrCancelled:        "cancelled",
	ErrNotFound:         "not_found",
	ErrPermission:       "permission",
	ErrIO:               "io",
	ErrTransientIO:      "transient_io",
	ErrConnection:       "connection",
	ErrContainer:        "container",
}

// String returns the snake_case name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Sentinels usable with errors.Is
var (
	Validation       = &Error{Code: ErrValidation}
	DependencyCycle  = &Error{Code: ErrDependencyCycle}
	ResourceConflict = &Error{Code: ErrResourceConflict}
	Execution        = &Error{Code: ErrExecution}
	Timeout          = &Error{Code: ErrTimeout}
	RetryExhausted   = &Error{Code: ErrRetryExhausted}
	Cancelled        = &Error{Code: ErrCancelled}
)

// Error represents a domain-specific error with context
type Error struct {
	// Code identifies the error type
	Code ErrorCode

	// Message provides human-readable error details
	Message string

	// Op describes the operation that failed
	Op string

	// Cause is the underlying error that triggered this one
	Cause error

	// Context holds additional error context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Code.String())
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on code. A timeout is also an execution error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code == t.Code {
		return true
	}
	return e.Code == ErrTimeout && t.Code == ErrExecution
}

// WithOp adds an operation name to the error
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error)
	if !ok {
		return &Error{
			Code:  GetCode(err),
			Op:    op,
			Cause: err,
		}
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      op,
		Cause:   e.Cause,
		Context: e.Context,
	}
}

// WithContext adds context to the error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error)
	if !ok {
		return &Error{
			Code:    GetCode(err),
			Cause:   err,
			Context: context,
		}
	}

	// Merge contexts if error already has context
	newContext := make(map[string]interface{}, len(e.Context)+len(context))
	for k, v := range e.Context {
		newContext[k] = v
	}
	for k, v := range context {
		newContext[k] = v
	}

	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Op:      e.Op,
		Cause:   e.Cause,
		Context: newContext,
	}
}

// New creates a new Error
func New(code ErrorCode, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with additional context
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Validationf builds a validation error for op
func Validationf(op, format string, args ...interface{}) error {
	return &Error{
		Code:    ErrValidation,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewTimeout reports that op exceeded its deadline
func NewTimeout(op string, cause error) error {
	return &Error{
		Code:    ErrTimeout,
		Op:      op,
		Message: "deadline exceeded",
		Cause:   cause,
	}
}

// GetCode returns the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrUnknown
	}

	var cycle *CycleError
	if errors.As(err, &cycle) {
		return ErrDependencyCycle
	}
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		return ErrRetryExhausted
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ErrUnknown
}

// coder is implemented by error types from other packages that carry a code
type coder interface {
	ErrorCode() ErrorCode
}

// GetContext returns the error context
func GetContext(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Context
	}
	return nil
}

// IsValidation reports whether err is fatal at graph-build time
func IsValidation(err error) bool {
	switch GetCode(err) {
	case ErrValidation, ErrResourceConflict, ErrDependencyCycle:
		return true
	}
	return false
}

// IsTimeout returns true if the error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, Timeout)
}

// IsCancelled returns true if the error is a cancelled error
func IsCancelled(err error) bool {
	return errors.Is(err, Cancelled)
}
