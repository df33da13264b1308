package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline errors.
type ErrorKind string

const (
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	ErrorKindConflict     ErrorKind = "conflict"
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindExecution    ErrorKind = "execution"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindCancelled    ErrorKind = "cancelled"
)

// Error represents a pipeline-specific error.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	Step      string    `json:"step,omitempty"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Retryable bool      `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "unknown pipeline error"
	}
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewNotFoundError reports an unknown dataset.
func NewNotFoundError(datasetID string) *Error {
	return &Error{
		Kind:      ErrorKindNotFound,
		Message:   fmt.Sprintf("dataset %q not found", datasetID),
		Retryable: false,
	}
}

// NewInvalidInputError reports a dataset without usable sample records.
func NewInvalidInputError(datasetID string) *Error {
	return &Error{
		Kind:      ErrorKindInvalidInput,
		Message:   fmt.Sprintf("dataset %q has no usable sample records", datasetID),
		Retryable: false,
	}
}

// NewConflictError reports a concurrent execution attempt.
func NewConflictError(runningID string) *Error {
	return &Error{
		Kind:      ErrorKindConflict,
		Message:   fmt.Sprintf("execution %s is already running", runningID),
		Retryable: false,
	}
}

// NewValidationError reports a malformed step input or config.
func NewValidationError(step, message string) *Error {
	return &Error{
		Kind:      ErrorKindValidation,
		Step:      step,
		Message:   message,
		Retryable: false,
	}
}

// NewStepError reports a business-logic failure inside a step.
func NewStepError(step string, cause error) *Error {
	msg := "step execution failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Kind:      ErrorKindExecution,
		Step:      step,
		Message:   msg,
		Cause:     cause,
		Retryable: true,
	}
}

// NewTimeoutError reports a step exceeding its deadline.
func NewTimeoutError(step, timeout string) *Error {
	return &Error{
		Kind:      ErrorKindTimeout,
		Step:      step,
		Message:   fmt.Sprintf("step exceeded timeout of %s", timeout),
		Retryable: true,
	}
}

// NewCancelledError reports an execution cancelled mid-step.
func NewCancelledError(step string) *Error {
	return &Error{
		Kind:      ErrorKindCancelled,
		Step:      step,
		Message:   "execution was cancelled",
		Retryable: false,
	}
}

// IsRetryable checks whether an error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Retryable
	}
	return false
}

// KindOf returns the kind of a pipeline error, or ErrorKindExecution for
// foreign errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Kind
	}
	return ErrorKindExecution
}
