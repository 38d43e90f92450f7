package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Codes
// =============================================================================

// Error codes carried by APIError. Codes are stable identifiers callers can
// switch on; Message is for display.
const (
	CodeNetworkError    = "network_error"
	CodeBadResponse     = "bad_response"
	CodeValidationError = "validation_error"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeRateLimited     = "rate_limited"
	CodeServerError     = "server_error"
	CodeAPIError        = "api_error"
)

// =============================================================================
// APIError
// =============================================================================

// APIError is the single error shape every SDK operation returns. Transport
// failures, non-2xx statuses, envelope failures, and client-side validation
// all normalize to it; raw *url.Error or decode errors never escape.
type APIError struct {
	Message    string         `json:"message"`
	StatusCode int            `json:"statusCode"`
	Code       string         `json:"code,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

// Temporary reports whether retrying the same call could plausibly succeed.
func (e *APIError) Temporary() bool {
	switch e.Code {
	case CodeNetworkError, CodeRateLimited, CodeServerError:
		return true
	}
	return e.StatusCode >= 500
}

// NewAPIError creates an APIError with an explicit code.
func NewAPIError(code, message string, statusCode int) *APIError {
	return &APIError{Code: code, Message: message, StatusCode: statusCode}
}

// WithDetails returns a copy of e carrying the given details map.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	clone := *e
	clone.Details = details
	return &clone
}

// ValidationError builds the client-side validation failure for a field.
// It carries StatusCode 0 since no request was made.
func ValidationError(field, message string) *APIError {
	return &APIError{
		Code:       CodeValidationError,
		Message:    message,
		StatusCode: 0,
		Details:    map[string]any{"field": field},
	}
}

// NetworkError wraps a transport-level failure (DNS, refused connection,
// timeout, canceled context).
func NetworkError(err error) *APIError {
	return &APIError{
		Code:       CodeNetworkError,
		Message:    "network request failed: " + err.Error(),
		StatusCode: 0,
	}
}

// AsAPIError extracts the APIError from an error chain, if present.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsUnauthorized reports whether err is a 401 APIError.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusUnauthorized
}

// IsRateLimited reports whether err is a 429 APIError.
func IsRateLimited(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == CodeRateLimited
}

// =============================================================================
// Response Decoding
// =============================================================================

// errorPayload matches the error bodies the wellness API produces. Fields the
// server omits stay zero and fall through to status-based defaults.
type errorPayload struct {
	Message string         `json:"message"`
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

// decodeError normalizes a non-success HTTP response into an APIError.
func decodeError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Code:       codeForStatus(statusCode),
		Message:    messageForStatus(statusCode),
		StatusCode: statusCode,
	}

	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			apiErr.Message = payload.Message
		} else if payload.Error != "" {
			apiErr.Message = payload.Error
		}
		if payload.Code != "" {
			apiErr.Code = payload.Code
		}
		if len(payload.Details) > 0 {
			apiErr.Details = payload.Details
		}
	}
	return apiErr
}

func codeForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	}
	if statusCode >= 500 {
		return CodeServerError
	}
	return CodeAPIError
}

func messageForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "session expired, please sign in again"
	case http.StatusForbidden:
		return "you do not have access to this resource"
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusConflict:
		return "resource already exists"
	case http.StatusTooManyRequests:
		return "too many requests, please slow down"
	}
	if statusCode >= 500 {
		return "the server ran into a problem, please try again"
	}
	return fmt.Sprintf("request failed with status %d", statusCode)
}
