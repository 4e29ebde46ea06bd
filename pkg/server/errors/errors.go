// Package errors defines the error taxonomy shared by the REST and GraphQL
// transports. Internal failures are encoded at the boundary and never leak
// driver or stack detail to clients.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Code is a stable, client-facing error code.
type Code string

const (
	CodeUnauthenticated    Code = "unauthenticated"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeValidation         Code = "validation_error"
	CodeQueryTooComplex    Code = "query_too_complex"
	CodeIntegrityViolation Code = "integrity_violation"
	CodeInternal           Code = "internal_error"
)

// EncodedError pairs a stable code with a safe, human-readable message.
type EncodedError struct {
	ErrCode Code   `json:"code"`
	Message string `json:"message"`
}

var _ error = (*EncodedError)(nil)

func (e *EncodedError) Error() string {
	return e.Message
}

func (e *EncodedError) Code() Code {
	return e.ErrCode
}

// HTTPStatusCode maps the error code onto the REST status line.
func (e *EncodedError) HTTPStatusCode() int {
	switch e.ErrCode {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeValidation, CodeQueryTooComplex:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func NewEncodedError(code Code, message string) *EncodedError {
	return &EncodedError{ErrCode: code, Message: message}
}

var (
	ErrUnauthenticated = NewEncodedError(CodeUnauthenticated, "unauthenticated")
	ErrForbidden       = NewEncodedError(CodeForbidden, "the principal is not authorized to perform the action")
	ErrNotFound        = NewEncodedError(CodeNotFound, "not found")
	ErrInternal        = NewEncodedError(CodeInternal, "internal server error")
)

// QueryTooComplex is returned by the GraphQL pre-execution guard. The message
// names the exceeded limit so clients can adjust their query shape.
func QueryTooComplex(message string) *EncodedError {
	return NewEncodedError(CodeQueryTooComplex, message)
}

func Conflict(message string) *EncodedError {
	return NewEncodedError(CodeConflict, message)
}

func Validation(message string) *EncodedError {
	return NewEncodedError(CodeValidation, message)
}

// IntegrityViolation indicates a cascade rule was bypassed or misconfigured.
// This is unreachable in a correct configuration and must fail loudly.
func IntegrityViolation(message string) *EncodedError {
	return NewEncodedError(CodeIntegrityViolation, message)
}

// Encode converts an arbitrary error into an EncodedError, collapsing
// anything unrecognized into an opaque internal error.
func Encode(err error) *EncodedError {
	var encoded *EncodedError
	if errors.As(err, &encoded) {
		return encoded
	}
	return ErrInternal
}

// WriteJSON writes the error as a `{"code":..., "message":...}` body with the
// mapped status code.
func WriteJSON(w http.ResponseWriter, err error) {
	encoded := Encode(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(encoded.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(encoded)
}
