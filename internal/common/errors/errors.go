// Package errors provides standardized error handling for the sync pipeline.
package errors

import (
	goerrors "errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrCodeUpstream    ErrorCode = "UPSTREAM_ERROR"
	ErrCodeNetwork     ErrorCode = "NETWORK_ERROR"

	ErrCodeMatchingFailed  ErrorCode = "MATCHING_FAILED"
	ErrCodeMigrationFailed ErrorCode = "MIGRATION_FAILED"

	ErrCodePersistenceConflict ErrorCode = "PERSISTENCE_CONFLICT"
	ErrCodeQueryFailed         ErrorCode = "DATABASE_QUERY_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewConfigurationError reports a missing required runtime setting. Fatal for
// the whole cycle, never retried.
func NewConfigurationError(key string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfiguration,
		Message:   "Required setting is missing",
		Details:   fmt.Sprintf("setting: %s", key),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError reports an upstream 429 that survived the full backoff
// schedule.
func NewRateLimitedError(endpoint string, attempts int) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Upstream rate limit not cleared after retries",
		Details:   fmt.Sprintf("endpoint: %s, attempts: %d", endpoint, attempts),
		Retryable: false,
		Metadata:  map[string]interface{}{"endpoint": endpoint, "attempts": attempts},
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedMarker flags a single 429 response as retryable so the
// client's backoff loop keeps going; exhausted markers are converted into
// the final non-retryable RATE_LIMITED error.
func NewRateLimitedMarker() *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Upstream rate limit hit",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpstreamError reports a non-429 HTTP failure or a malformed response
// envelope from the form API.
func NewUpstreamError(status int, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstream,
		Message:   "Upstream form API error",
		Details:   details,
		Retryable: status >= 500,
		Metadata:  map[string]interface{}{"status": status},
		Timestamp: time.Now().UTC(),
	}
}

// NewNetworkError reports a network-level failure. Retryable failures are
// retried transparently by the client; non-retryable ones propagate.
func NewNetworkError(err error, retryable bool) *StandardError {
	return &StandardError{
		Code:      ErrCodeNetwork,
		Message:   "Network error calling upstream",
		Details:   err.Error(),
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewMatchingFailedError reports a single auxiliary-form lookup failure.
// Absorbed by the matcher fan-out, surfaced only in diagnostics.
func NewMatchingFailedError(formID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMatchingFailed,
		Message:   "Auxiliary form lookup failed",
		Details:   fmt.Sprintf("formId: %s, error: %s", formID, err.Error()),
		Retryable: false,
		Metadata:  map[string]interface{}{"formId": formID},
		Timestamp: time.Now().UTC(),
	}
}

// NewMigrationFailedError reports a file download/upload failure. The caller
// keeps the original external URL as fallback.
func NewMigrationFailedError(sourceURL string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMigrationFailed,
		Message:   "File migration failed",
		Details:   fmt.Sprintf("source: %s, error: %s", sourceURL, err.Error()),
		Retryable: false,
		Metadata:  map[string]interface{}{"sourceUrl": sourceURL},
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceConflictError reports a unique-constraint violation on the
// insert path.
func NewPersistenceConflictError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceConflict,
		Message:   "Unique constraint violation during upsert",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryFailedError reports a failed database round trip.
func NewQueryFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryFailed,
		Message:   "Database query error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Classification Helpers
// ==========================

// CodeOf extracts the ErrorCode from an error chain, or empty when the error
// is not a StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if goerrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if goerrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}
