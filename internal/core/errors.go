// Package core provides core types and interfaces for the LLM gateway.
package core

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrorKind classifies a ProviderError.
type ErrorKind string

const (
	KindUnavailable     ErrorKind = "unavailable"
	KindTimeout         ErrorKind = "timeout"
	KindRateLimited     ErrorKind = "rate_limited"
	KindAPIKeyMissing   ErrorKind = "api_key_missing"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindEmptyResponse   ErrorKind = "empty_response"
	KindUpstream        ErrorKind = "upstream_error"
)

// Error type tags reported to callers in QueryResponse.ErrorType.
const (
	ErrorTypeProvider   = "ProviderError"
	ErrorTypeValidation = "validation_error"
	ErrorTypeRateLimit  = "rate_limit"
	ErrorTypeInternal   = "internal_error"
)

// ProviderAll is used as the provider of errors that concern every provider.
const ProviderAll = "all"

// ProviderError is the single error type produced at the provider boundary.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	// Original error for debugging (not exposed to clients)
	Err error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the upstream status to the status returned to callers.
// Only 401, 408, 429 and 503 pass through.
func (e *ProviderError) HTTPStatusCode() int {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return e.StatusCode
	default:
		return http.StatusInternalServerError
	}
}

// ProviderType returns the provider the error belongs to, if it is a known one.
func (e *ProviderError) ProviderType() (ProviderType, bool) {
	return ParseProviderType(e.Provider)
}

// NewUnavailableError creates a retryable 503 error.
func NewUnavailableError(provider string) *ProviderError {
	return &ProviderError{
		Kind:       KindUnavailable,
		Provider:   provider,
		StatusCode: http.StatusServiceUnavailable,
		Message:    "Service unavailable",
		Retryable:  true,
	}
}

// NewTimeoutError creates a retryable 408 error.
func NewTimeoutError(provider string, err error) *ProviderError {
	return &ProviderError{
		Kind:       KindTimeout,
		Provider:   provider,
		StatusCode: http.StatusRequestTimeout,
		Message:    "Request timeout",
		Retryable:  true,
		Err:        err,
	}
}

// NewRateLimitError creates a retryable 429 error.
func NewRateLimitError(provider string) *ProviderError {
	return &ProviderError{
		Kind:       KindRateLimited,
		Provider:   provider,
		StatusCode: http.StatusTooManyRequests,
		Message:    "Rate limit exceeded",
		Retryable:  true,
	}
}

// NewAPIKeyMissingError creates a non-retryable 401 error.
func NewAPIKeyMissingError(provider string) *ProviderError {
	return &ProviderError{
		Kind:       KindAPIKeyMissing,
		Provider:   provider,
		StatusCode: http.StatusUnauthorized,
		Message:    "API key not configured",
	}
}

// NewInvalidResponseError creates a non-retryable 500 error for unparseable upstream output.
func NewInvalidResponseError(provider string, err error) *ProviderError {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &ProviderError{
		Kind:       KindInvalidResponse,
		Provider:   provider,
		StatusCode: http.StatusInternalServerError,
		Message:    "Invalid response: " + msg,
		Err:        err,
	}
}

// NewEmptyResponseError creates a non-retryable 500 error.
func NewEmptyResponseError(provider string) *ProviderError {
	return &ProviderError{
		Kind:       KindEmptyResponse,
		Provider:   provider,
		StatusCode: http.StatusInternalServerError,
		Message:    "Empty response",
	}
}

// NewUpstreamError carries an upstream status and message through unchanged.
func NewUpstreamError(provider string, statusCode int, message string, retryable bool, err error) *ProviderError {
	return &ProviderError{
		Kind:       KindUpstream,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Retryable:  retryable,
		Err:        err,
	}
}

// ParseProviderError classifies a non-2xx upstream response.
// The message is taken from error.message in the body, defaulting to "API error".
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *ProviderError {
	if statusCode == http.StatusTooManyRequests {
		return NewRateLimitError(provider)
	}

	message := "API error"
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		message = msg.String()
	}

	switch {
	case statusCode >= 400 && statusCode < 500:
		return NewUpstreamError(provider, statusCode, message, false, originalErr)
	case statusCode >= 500:
		return NewUpstreamError(provider, statusCode, message, true, originalErr)
	default:
		return NewInvalidResponseError(provider, fmt.Errorf("unexpected status %d: %s", statusCode, message))
	}
}
