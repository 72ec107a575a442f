package domain

import (
	"errors"
	"fmt"
	"time"
)

// MsgInvalidContinuationToken is returned to clients that resume a listing with
// a malformed continuation token.
const MsgInvalidContinuationToken = "The continuation token is invalid."

// Common domain errors
var (
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrRateLimited   = errors.New("request rate exceeded")
	ErrInvalidInput  = errors.New("request not valid")
	ErrNotFound      = errors.New("resource not found")
)

// RateLimitedError reports that the backend throttled a call. Clients should
// retry after RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("request rate exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// InvalidInputError reports a request the client must correct before retrying.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string {
	return e.Message
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IsRateLimited checks if the error indicates backend throttling
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsInvalidInput checks if the error indicates a client input problem
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ErrorResponse defines the standard JSON error model returned by the data API.
// TraceID carries the current OpenTelemetry trace identifier when available.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., RATE_LIMITED)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
