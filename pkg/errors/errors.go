// Package errors carries the typed error codes shared by the HTTP surface and
// the command stream. A code decides the HTTP status and whether a failed
// command is redelivered or dead-lettered.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeNotFound       Code = "NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
	CodeDecode         Code = "DECODE_ERROR"
	CodeInvalidPayload Code = "INVALID_PAYLOAD"
	CodeUnknownCommand Code = "UNKNOWN_COMMAND"
	CodeInternal       Code = "INTERNAL_ERROR"
	CodeDependency     Code = "DEPENDENCY_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:     {http.StatusBadRequest, false, "validation failed", true},
	CodeNotFound:       {http.StatusNotFound, false, "resource not found", false},
	CodeConflict:       {http.StatusConflict, false, "conflict detected", false},
	CodeDecode:         {http.StatusBadRequest, false, "command could not be decoded", true},
	CodeInvalidPayload: {http.StatusUnprocessableEntity, false, "command payload invalid", true},
	CodeUnknownCommand: {http.StatusUnprocessableEntity, false, "command not supported", true},
	CodeInternal:       {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:     {http.StatusServiceUnavailable, true, "dependency unavailable", true},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error with an optional cause and client-safe details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether the outermost *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// IsRetryable reports whether err should be redelivered. Untyped errors are
// treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if typed := As(err); typed != nil {
		return MetadataFor(typed.Code()).Retryable
	}
	return true
}
