// Package errors provides structured error types for the examprep services.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI and the HTTP API
//   - Machine-readable error codes mapped onto HTTP statuses
//   - User-facing messages that never leak the code prefix
//
// # Error Codes
//
// Render pipeline failures are classified by stage: BAD_REQUEST for input
// problems, COMPILATION_FAILED and RASTERIZATION_FAILED for the two external
// tools, and IO_FAILURE for workspace file handling. Application routes add
// UNAUTHORIZED, FORBIDDEN, NOT_FOUND and UPSTREAM_ERROR.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeBadRequest, "tikzCode is required")
//	if errors.Is(err, errors.ErrCodeBadRequest) {
//	    // respond 400
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeCompilation, runErr, "pdflatex failed")
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeBadRequest Code = "BAD_REQUEST"

	// Render pipeline stage errors
	ErrCodeCompilation   Code = "COMPILATION_FAILED"
	ErrCodeRasterization Code = "RASTERIZATION_FAILED"
	ErrCodeIO            Code = "IO_FAILURE"

	// Authentication errors
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	ErrCodeForbidden    Code = "FORBIDDEN"

	// Resource errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// External provider errors (LLM, mail)
	ErrCodeUpstream Code = "UPSTREAM_ERROR"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Detail returns the message together with its cause chain, without any code
// prefixes. It is the text placed after "Render failed: " in HTTP responses.
func Detail(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Cause == nil {
		return e.Message
	}
	cause := Detail(e.Cause)
	if e.Message == "" {
		return cause
	}
	return e.Message + ": " + cause
}

// HTTPStatus maps an error onto the status code the API responds with.
// Errors without a code are treated as internal.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
