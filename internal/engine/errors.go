// internal/engine/errors.go
package engine

import (
	"errors"
	"fmt"
)

// Common engine errors
var (
	ErrBrowserNotFound = errors.New("chrome browser not found")
	ErrInvalidURL      = errors.New("invalid URL")
	ErrChallenge       = errors.New("challenge not cleared")
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	ErrCodeNetwork     ErrorCode = "NETWORK"
	ErrCodeChallenge   ErrorCode = "CHALLENGE"
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrCodeBrowser     ErrorCode = "BROWSER"
	ErrCodeExhausted   ErrorCode = "EXHAUSTED"
	ErrCodeValidation  ErrorCode = "VALIDATION"
)

// FetchError is the error type returned by fetch operations. Retry marks
// conditions that a later attempt may clear.
type FetchError struct {
	Code       ErrorCode
	Message    string
	URL        string
	Underlying error
	Retry      bool
	Details    map[string]any
}

// Error implements the error interface
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error {
	return e.Underlying
}

// Is checks if the error matches the target
func (e *FetchError) Is(target error) bool {
	if t, ok := target.(*FetchError); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Underlying, target)
}

// NewFetchError creates a new FetchError
func NewFetchError(code ErrorCode, url, message string, err error) *FetchError {
	return &FetchError{
		Code:       code,
		Message:    message,
		URL:        url,
		Underlying: err,
	}
}

// WithRetry marks the error as retryable
func (e *FetchError) WithRetry() *FetchError {
	e.Retry = true
	return e
}

// WithDetail adds a detail to the error
func (e *FetchError) WithDetail(key string, value any) *FetchError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first FetchError in err's chain
func CodeOf(err error) ErrorCode {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
