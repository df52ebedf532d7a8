package model

import (
	"errors"
	"fmt"
)

// Error is the single structured error type of the gateway core.
//
// Codes:
//   - VALIDATION: malformed legacy id or local key
//   - SELF_REFERENCE: the legacy id is the session owner
//   - NOT_FOUND: archive anchor, id set member, entity or correlation missing
//   - ENRICHMENT: the adapter's enrichment callback failed
//   - TRANSIENT_BACKEND: the persistent store failed
//   - CONFLICT: a primary correlation would be re-pointed
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key is the identifier the error is about (legacy id, local key, message id).
	Key string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes core errors.
type ErrorCode string

const (
	ErrCodeValidation       ErrorCode = "VALIDATION"
	ErrCodeSelfReference    ErrorCode = "SELF_REFERENCE"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeEnrichment       ErrorCode = "ENRICHMENT"
	ErrCodeTransientBackend ErrorCode = "TRANSIENT_BACKEND"
	ErrCodeConflict         ErrorCode = "CONFLICT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != "" {
		msg = fmt.Sprintf("%s (key=%s)", msg, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsSelfReference returns true if err reports the session owner's own id.
func IsSelfReference(err error) bool { return CodeOf(err) == ErrCodeSelfReference }

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsEnrichment returns true if err wraps an enrichment callback failure.
func IsEnrichment(err error) bool { return CodeOf(err) == ErrCodeEnrichment }

// IsTransientBackend returns true if err is a store failure.
func IsTransientBackend(err error) bool { return CodeOf(err) == ErrCodeTransientBackend }

// IsConflict returns true if err reports a conflicting correlation.
func IsConflict(err error) bool { return CodeOf(err) == ErrCodeConflict }

// NewValidationError creates a VALIDATION error.
func NewValidationError(message, key string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message, Key: key}
}

// NewSelfReferenceError creates a SELF_REFERENCE error.
func NewSelfReferenceError(legacyID string) *Error {
	return &Error{
		Code:    ErrCodeSelfReference,
		Message: "legacy id belongs to the session owner",
		Key:     legacyID,
	}
}

// NewNotFoundError creates a NOT_FOUND error.
func NewNotFoundError(message, key string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: message, Key: key}
}

// NewEnrichmentError wraps a failure of the adapter's enrichment callback.
func NewEnrichmentError(legacyID string, err error) *Error {
	return &Error{
		Code:    ErrCodeEnrichment,
		Message: "enrichment failed",
		Key:     legacyID,
		Err:     err,
	}
}

// NewBackendError wraps a store failure for operation op.
func NewBackendError(op string, err error) *Error {
	return &Error{Code: ErrCodeTransientBackend, Message: op, Err: err}
}

// NewConflictError reports an attempt to re-point an existing mapping.
func NewConflictError(message, key string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message, Key: key}
}
