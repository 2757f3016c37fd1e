// Package errors provides the engine's single closed error enumeration and
// the HTTP status mapping for the boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the closed enumeration of error codes the engine can raise.
type ErrorCode string

const (
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeConflict             ErrorCode = "CONFLICT"
	ErrCodePlanRequired         ErrorCode = "PLAN_REQUIRED"
	ErrCodeApprovalNotFound     ErrorCode = "APPROVAL_NOT_FOUND"
	ErrCodeApprovalExpired      ErrorCode = "APPROVAL_EXPIRED"
	ErrCodeInsufficientEvidence ErrorCode = "INSUFFICIENT_EVIDENCE"
	ErrCodeLimitExceeded        ErrorCode = "LIMIT_EXCEEDED"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited          ErrorCode = "RATE_LIMITED"
	ErrCodeInternal             ErrorCode = "INTERNAL"
)

// ServiceError is a structured error with code, message, and HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional detail to the error and returns it for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError with no wrapped cause.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates a ServiceError around an existing error.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// InvalidInput reports a validation failure, always naming the offending
// field so callers can surface it.
func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Conflict reports a state-machine violation (e.g. confirming a failed task).
func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// PlanRequired reports a plan-gate denial.
func PlanRequired(feature, currentTier, requiredTier, upgradeURL string) *ServiceError {
	return New(ErrCodePlanRequired, "feature requires a higher plan tier", http.StatusPaymentRequired).
		WithDetails("feature", feature).
		WithDetails("currentTier", currentTier).
		WithDetails("requiredTier", requiredTier).
		WithDetails("upgradeUrl", upgradeURL)
}

// ApprovalNotFound reports an unknown approval request id.
func ApprovalNotFound(requestID string) *ServiceError {
	return New(ErrCodeApprovalNotFound, "approval request not found", http.StatusNotFound).
		WithDetails("requestId", requestID)
}

// ApprovalExpired reports a decision attempted against an expired request.
func ApprovalExpired(requestID string) *ServiceError {
	return New(ErrCodeApprovalExpired, "approval request has expired", http.StatusConflict).
		WithDetails("requestId", requestID)
}

// InsufficientEvidence reports an approval or task confirmation missing
// required evidence keys.
func InsufficientEvidence(missing []string) *ServiceError {
	return New(ErrCodeInsufficientEvidence, "required evidence is missing", http.StatusBadRequest).
		WithDetails("missing", missing)
}

// LimitExceeded reports a plan-metering cap crossed (soft: the processed
// result is still returned alongside this error at the HTTP boundary).
func LimitExceeded(usage interface{}) *ServiceError {
	return New(ErrCodeLimitExceeded, "plan event limit exceeded", http.StatusTooManyRequests).
		WithDetails("usage", usage)
}

// Unauthorized reports a missing or invalid bearer key.
func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// RateLimited reports the hard, body-less 429 with Retry-After.
func RateLimited(retryAfterSeconds int) *ServiceError {
	return New(ErrCodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("retryAfter", retryAfterSeconds)
}

// Internal wraps an unexpected error, including a chain-invariant violation
// that should never occur absent a bug.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// IsServiceError reports whether err carries a *ServiceError in its chain.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a *ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status for err, defaulting to 500 when err
// carries no ServiceError.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
