package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers use these instead of hardcoded strings so
// the HTTP layer can map codes to statuses uniformly.
const (
	// Validation (400)
	ErrCodeValidationInvalidRuleType  ErrorCode = "validation_invalid_rule_type"
	ErrCodeValidationInvalidActions   ErrorCode = "validation_invalid_actions"
	ErrCodeValidationInvalidThreshold ErrorCode = "validation_invalid_threshold"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidDateRange ErrorCode = "validation_invalid_date_range"

	// Not Found (404)
	ErrCodeNotFoundRule      ErrorCode = "not_found_rule"
	ErrCodeNotFoundShipment  ErrorCode = "not_found_shipment"
	ErrCodeNotFoundViolation ErrorCode = "not_found_violation"

	// Conflict (409)
	ErrCodeConflictConcurrent ErrorCode = "conflict_concurrent_modification"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamAlertQueue ErrorCode = "upstream_alert_queue_unavailable"
	ErrCodeUpstreamWebhook    ErrorCode = "upstream_webhook_unavailable"
	ErrCodeUpstreamChain      ErrorCode = "upstream_chain_unavailable"
	ErrCodeUpstreamBilling    ErrorCode = "upstream_billing_unavailable"
)

// HTTPStatus maps an ErrorCode to its HTTP status code. Unrecognized codes
// map to 500 as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Domain and handler errors
// are expressed as AppError so transport can format them consistently and
// distinguish "not found" from "processing failed".
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates an AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails creates an AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}
