package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an operation did not succeed.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindAlreadyClaimed    ErrorKind = "ALREADY_CLAIMED"
	KindValidation        ErrorKind = "VALIDATION_ERROR"
	KindForbidden         ErrorKind = "FORBIDDEN"
	KindInternal          ErrorKind = "INTERNAL_ERROR"
)

const internalErrorMessage = "An internal error occurred. Please try again later."

// Result is returned by every lifecycle and invitation operation instead of a
// bare error, so callers can choose their own messaging per kind.
type Result struct {
	Success bool      `json:"success"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
}

func ok() Result {
	return Result{Success: true}
}

func fail(kind ErrorKind, format string, args ...any) Result {
	return Result{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func internalFailure() Result {
	return Result{Kind: KindInternal, Message: internalErrorMessage}
}

// Err adapts a failed result to an error. A successful result yields nil.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &OpError{Kind: r.Kind, Message: r.Message}
}

// OpError is the error form of a failed Result.
type OpError struct {
	Kind    ErrorKind
	Message string
}

func (e *OpError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the ErrorKind from an error produced by Result.Err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindInternal
}
