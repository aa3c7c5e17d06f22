package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes used in task failures, API responses and internal error handling.
const (
	ErrCodePoolExhausted     = "POOL_EXHAUSTED"
	ErrCodeNavigationTimeout = "NAVIGATION_TIMEOUT"
	ErrCodeNavigation        = "NAVIGATION_FAILED"
	ErrCodeLayoutChanged     = "LAYOUT_CHANGED"
	ErrCodeNoResults         = "NO_RESULTS"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeDeadlineExceeded  = "DEADLINE_EXCEEDED"
	ErrCodeBrowserCrash      = "BROWSER_CRASH"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FareError is the internal error type carrying an error code and, when the
// failure is scoped to one carrier, the airline it belongs to.
type FareError struct {
	Code    string
	Airline AirlineCode
	Message string
	Err     error // wrapped original error
}

func (e *FareError) Error() string {
	prefix := e.Code
	if e.Airline != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Code, e.Airline)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *FareError) Unwrap() error {
	return e.Err
}

// Is matches another *FareError by code, so sentinel values such as
// ErrNoResults work with errors.Is.
func (e *FareError) Is(target error) bool {
	t, ok := target.(*FareError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Airline == "" && t.Message == ""
}

// NewFareError creates a new FareError.
func NewFareError(code, message string, err error) *FareError {
	return &FareError{Code: code, Message: message, Err: err}
}

// NewAirlineError creates a FareError scoped to one airline.
func NewAirlineError(airline AirlineCode, code, message string, err error) *FareError {
	return &FareError{Code: code, Airline: airline, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *FareError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrPoolExhausted     = &FareError{Code: ErrCodePoolExhausted}
	ErrNavigationTimeout = &FareError{Code: ErrCodeNavigationTimeout}
	ErrLayoutChanged     = &FareError{Code: ErrCodeLayoutChanged}
	ErrNoResults         = &FareError{Code: ErrCodeNoResults}
	ErrAuthFailed        = &FareError{Code: ErrCodeAuthFailed}
	ErrSourceUnavailable = &FareError{Code: ErrCodeSourceUnavailable}
	ErrRateLimited       = &FareError{Code: ErrCodeRateLimited}
	ErrDeadlineExceeded  = &FareError{Code: ErrCodeDeadlineExceeded}
)

// CodeOf classifies any error into one of the error codes above.
// Bare context errors map to DEADLINE_EXCEEDED.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *FareError
	if errors.As(err, &fe) {
		return fe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrCodeDeadlineExceeded
	}
	return ErrCodeInternal
}

// Retryable reports whether a task that failed with err may be attempted again.
// Only navigation timeouts qualify.
func Retryable(err error) bool {
	return CodeOf(err) == ErrCodeNavigationTimeout
}
