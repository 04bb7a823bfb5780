package flickr

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrQuotaExhausted is returned when the hourly quota refused the call.
	// No request was sent.
	ErrQuotaExhausted = errors.New("hourly quota exhausted")

	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("upstream circuit open")
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents non-429 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses and an open circuit.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents HTTP 429 and local quota exhaustion.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassAPI represents a stat=fail envelope.
	ErrorClassAPI ErrorClass = "api"

	// ErrorClassMalformed represents a body that could not be decoded.
	ErrorClassMalformed ErrorClass = "malformed"
)

// APIError is a classified upstream failure.
type APIError struct {
	Method     string
	StatusCode int
	ErrorClass ErrorClass

	// Code and Message come from a stat=fail envelope.
	Code    int
	Message string

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("flickr %s %s error", e.Method, e.ErrorClass)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != 0 || e.Message != "" {
		msg += fmt.Sprintf(": code %d: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err, or "" when err is not an APIError.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		// 429 is not retried inside the quota window; client, api and
		// malformed answers will not change on retry.
		return false
	}
}
