package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies an error for propagation and transport mapping
type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeNotAuthenticated  Code = "NOT_AUTHENTICATED"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeMediaUploadFailed Code = "MEDIA_UPLOAD_FAILED"
	CodeStoreUnavailable  Code = "STORE_UNAVAILABLE"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflictRetry     Code = "CONFLICT_RETRY"
)

// Error is a classified application error
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified error without a cause
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a classified error around cause
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func InvalidArgument(msg string) error {
	return New(CodeInvalidArgument, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func PermissionDenied(msg string) error {
	return New(CodePermissionDenied, msg)
}

func NotAuthenticated(msg string) error {
	return New(CodeNotAuthenticated, msg)
}

// Unavailable marks a transient store or transport failure
func Unavailable(msg string, cause error) error {
	return Wrap(CodeStoreUnavailable, msg, cause)
}

// CodeOf returns the code of the first classified error in err's chain.
// Deadline and cancellation are reported as CodeStoreUnavailable: a suspended
// call that ran out of time is retryable.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeStoreUnavailable
	}
	return CodeUnknown
}

// Retryable reports whether the caller may retry the failed operation
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeStoreUnavailable, CodeConflictRetry, CodeMediaUploadFailed:
		return true
	default:
		return false
	}
}

// Message returns the public message of the first classified error in err's chain
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
