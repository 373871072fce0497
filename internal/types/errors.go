package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is the machine-readable part of an error response. Its prefix
// decides the HTTP status.
type ErrorCode string

const (
	// Validation (400)
	ErrCodeValidationInvalidUserID ErrorCode = "validation_invalid_user_id"
	ErrCodeValidationInvalidPlan   ErrorCode = "validation_invalid_plan"
	ErrCodeValidationInvalidJSON   ErrorCode = "validation_invalid_json"
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"

	// Not Found (404)
	ErrCodeNotFoundPayment      ErrorCode = "not_found_payment"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"

	// Provider refused the request (400). The caller sent something the
	// provider could not accept; details carry the provider diagnostics.
	ErrCodeUpstreamProviderRejected ErrorCode = "upstream_provider_rejected"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB                ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected        ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamPaymentProvider   ErrorCode = "upstream_payment_provider_unavailable"
	ErrCodeUpstreamIdentityProvider  ErrorCode = "upstream_identity_provider_unavailable"
	ErrCodeUpstreamUnavailable       ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited       ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnexpectedPayload ErrorCode = "upstream_unexpected_payload"
)

// HTTPStatus maps the code's prefix to a status; unknown codes are 500.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case s == string(ErrCodeUpstreamProviderRejected):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the error type components return when the HTTP layer needs
// to tell the caller something specific. Err is logged, never rendered.
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

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates an AppError. err may be nil.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates an AppError carrying structured details,
// such as the provider diagnostics of a rejected checkout.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// IsClientError reports whether err carries an AppError that maps to a 4xx
// status.
func IsClientError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	status := appErr.HTTPStatus()
	return status >= 400 && status < 500
}
