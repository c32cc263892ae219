// Package domain defines the core domain models for memsnap.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "MS-SNAP-4001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support. Two domain errors match when their
// codes are equal.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Snapshot Errors (SNAP)
// ============================================================================

var (
	// ErrMissingUploadBuffer indicates the captured artifact was requested
	// before a capture produced one.
	ErrMissingUploadBuffer = NewDomainError("MS-SNAP-4001", "no captured snapshot buffer")

	// ErrTypeMismatch indicates a value other than a non-empty artifact
	// buffer was handed to capture storage.
	ErrTypeMismatch = NewDomainError("MS-SNAP-4002", "expected a snapshot artifact buffer")

	// ErrInvalidTransition indicates a lifecycle operation was called in a
	// state that does not permit it.
	ErrInvalidTransition = NewDomainError("MS-SNAP-4091", "invalid lifecycle transition")

	// ErrMalformedArtifact indicates the artifact header or metadata region
	// could not be parsed.
	ErrMalformedArtifact = NewDomainError("MS-SNAP-4221", "malformed snapshot artifact")

	// ErrIOFailure indicates an archive read, snapshot read or upload failed.
	ErrIOFailure = NewDomainError("MS-SNAP-5001", "snapshot io failure")
)

// ============================================================================
// Dynamic Library Errors (LIB)
// ============================================================================

var (
	// ErrLibraryNotFound indicates a preload entry is missing from the
	// site-packages index.
	ErrLibraryNotFound = NewDomainError("MS-LIB-4040", "library not found in site-packages index")

	// ErrLibraryCompile indicates the host failed to compile library bytes.
	ErrLibraryCompile = NewDomainError("MS-LIB-5001", "library compilation failed")

	// ErrMemoryTooSmall indicates the host linear memory cannot hold the
	// restored heap.
	ErrMemoryTooSmall = NewDomainError("MS-LIB-5002", "linear memory too small")
)

// ============================================================================
// Store Errors (STORE)
// ============================================================================

var (
	// ErrArtifactNotFound indicates the store has no artifact for the key.
	ErrArtifactNotFound = NewDomainError("MS-STORE-4040", "artifact not found")

	// ErrInvalidArtifactKey indicates an artifact key failed validation.
	ErrInvalidArtifactKey = NewDomainError("MS-STORE-4001", "invalid artifact key")

	// ErrStoreUnavailable indicates the store backend failed.
	ErrStoreUnavailable = NewDomainError("MS-STORE-5001", "artifact store unavailable")

	// ErrChecksumMismatch indicates stored artifact bytes do not match
	// their recorded checksum.
	ErrChecksumMismatch = NewDomainError("MS-STORE-5002", "artifact checksum mismatch")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("MS-SYS-5000", "internal server error")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("MS-SYS-4000", "bad request")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("MS-SYS-4290", "too many requests")

	// ErrPayloadTooLarge indicates an upload exceeds the configured limit.
	ErrPayloadTooLarge = NewDomainError("MS-SYS-4130", "payload too large")
)
