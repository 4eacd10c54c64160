// Package apperrors classifies failures so that only the outermost request
// handler decides what a caller gets to see.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeValidation         Code = "VALIDATION_FAILED"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodePreconditionFailed Code = "PRECONDITION_FAILED"
	CodeDependency         Code = "DEPENDENCY_FAILURE"
)

// Error is a classified error. Cause is kept for logs and never rendered to clients.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code, so sentinels built with the
// constructors below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

func PreconditionFailed(msg string) *Error {
	return &Error{Code: CodePreconditionFailed, Message: msg}
}

// Dependency wraps a store, bus or configuration failure.
func Dependency(msg string, cause error) *Error {
	return &Error{Code: CodeDependency, Message: msg, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain. Unclassified
// errors are dependency failures.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeDependency
}

// IsCode reports whether err is classified with code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps a code onto the status the API surface returns for it.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodePreconditionFailed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
