// Package domainerrors carries coded errors from services to transports.
//
// Stores return sentinel facts (see pkg/platform/sentinel); services translate
// them into coded errors here so handlers can map them to HTTP statuses
// without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain failure. Codes are stable and appear in
// API responses.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation_error"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal_error"

	// Allocation failures. Each draw failure kind has its own code so callers
	// can tell them apart without parsing messages.
	CodeUnknownParticipant Code = "unknown_participant"
	CodeAlreadyAssigned    Code = "already_assigned"
	CodeNoCandidates       Code = "no_candidates_available"
	CodeContention         Code = "contention"
	CodeExchangeNotStarted Code = "exchange_not_started"
)

// Error is a coded domain error. Err is optional and kept for errors.Is/As.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost coded error in the chain has code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// Retryable reports whether the caller may retry the whole operation.
func Retryable(err error) bool {
	return HasCode(err, CodeContention)
}

// ToHTTPStatus maps a code to the status written by HTTP handlers.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound, CodeUnknownParticipant:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyAssigned, CodeExchangeNotStarted:
		return http.StatusConflict
	case CodeNoCandidates:
		return http.StatusUnprocessableEntity
	case CodeContention:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
