package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches two domain errors by code and message so that a wrapped copy
// created with Wrap still satisfies errors.Is against the sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// Wrap returns a copy of the error carrying cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return NewDomainErrorWithCause(e.Code, e.Message, cause)
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeUpstream         = "UPSTREAM_ERROR"
)

// Validation errors
var (
	ErrMalformedBundle      = NewDomainError(ErrCodeValidation, "malformed STIX bundle")
	ErrInvalidFilename      = NewDomainError(ErrCodeValidation, "invalid bundle filename")
	ErrInvalidFocus         = NewDomainError(ErrCodeValidation, "invalid execution focus")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidTopK          = NewDomainError(ErrCodeValidation, "topk must be positive")
)

// Not found errors
var (
	ErrBundleNotFound = NewDomainError(ErrCodeNotFound, "bundle file not found")
	ErrRunNotFound    = NewDomainError(ErrCodeNotFound, "run not found")
)

// Configuration errors
var (
	ErrMissingCredential = NewDomainError(ErrCodeConfiguration, "embedding provider credential not configured")
	ErrNoBundleStore     = NewDomainError(ErrCodeConfiguration, "bundle storage not configured")
)

// Operation errors
var (
	ErrIndexAlreadyBuilt = NewDomainError(ErrCodeInvalidOperation, "retrieval index already built")
)

// Upstream errors
var (
	ErrEmbeddingFailed = NewDomainError(ErrCodeUpstream, "embedding provider call failed")
	ErrPlannerFailed   = NewDomainError(ErrCodeUpstream, "planner call failed")
)
