// Package errors defines the stable error codes the explanation service
// reports and a carrier type that keeps the underlying cause attached.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a failure mode. Codes are stable strings so
// clients and logs can switch on them.
type ErrorCode string

const (
	// BadRequest indicates a malformed body, missing question, or bad JSON.
	BadRequest ErrorCode = "BAD_REQUEST"
	// BadTenant indicates the resolved tenant identifier failed validation.
	BadTenant ErrorCode = "BAD_TENANT"
	// SchemaIncomplete indicates required field ids are missing for a tenant.
	SchemaIncomplete ErrorCode = "SCHEMA_INCOMPLETE"
	// PageNotFound indicates no page or block matched the question. This is
	// reported inside a trace, never as an HTTP failure.
	PageNotFound ErrorCode = "PAGE_NOT_FOUND"
	// RetrievalFailure indicates the semantic-search service was unreachable.
	RetrievalFailure ErrorCode = "RETRIEVAL_FAILURE"
	// GenerationFailure indicates the language model call failed.
	GenerationFailure ErrorCode = "GENERATION_FAILURE"
	// DatabaseFailure indicates a query failed; the request aborts.
	DatabaseFailure ErrorCode = "DATABASE_FAILURE"
	// StreamError indicates the client went away mid-stream.
	StreamError ErrorCode = "STREAM_ERROR"
	// Internal indicates an unexpected failure with no better code.
	Internal ErrorCode = "INTERNAL_ERROR"
)

// RoamError carries an error code, a human message, optional structured
// details, and the underlying cause.
type RoamError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// New creates a RoamError without a cause.
func New(code ErrorCode, message string) *RoamError {
	return &RoamError{Code: code, Message: message}
}

// Newf creates a RoamError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *RoamError {
	return &RoamError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a RoamError around an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *RoamError {
	return &RoamError{Code: code, Message: message, cause: cause}
}

// Error implements the error interface.
func (e *RoamError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RoamError) Unwrap() error {
	return e.cause
}

// WithDetails attaches structured details and returns the error.
func (e *RoamError) WithDetails(details any) *RoamError {
	e.Details = details
	return e
}

// CodeOf extracts the error code from err, walking the wrap chain.
// Unknown errors report Internal.
func CodeOf(err error) ErrorCode {
	var re *RoamError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return Internal
}

// HasCode reports whether err carries the given code anywhere in its
// wrap chain.
func HasCode(err error, code ErrorCode) bool {
	var re *RoamError
	if stderrors.As(err, &re) {
		return re.Code == code
	}
	return false
}
