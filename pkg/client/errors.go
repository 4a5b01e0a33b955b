package client

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors. A *FetchError matches exactly one of them with errors.Is,
// depending on its class.
var (
	// ErrNotFound is matched by failures for ids the API does not know.
	ErrNotFound = errors.New("entity not found")

	// ErrTransient is matched by failures that may succeed on a later attempt.
	ErrTransient = errors.New("transient failure")

	// ErrDecode is matched by successful responses with an unusable body.
	ErrDecode = errors.New("decode failure")

	// ErrPermanent is matched by other request failures that will not succeed
	// on retry (invalid id, unexpected 4xx).
	ErrPermanent = errors.New("permanent failure")
)

// ErrorClass represents a classification of fetch failures.
// Values double as Prometheus label values.
type ErrorClass string

const (
	// ErrorClassNotFound represents 404/410 responses.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassClient represents other 4xx responses and invalid input.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 and 408 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents 2xx responses that do not decode into a record.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassCircuitOpen represents requests rejected by the open circuit breaker.
	ErrorClassCircuitOpen ErrorClass = "circuit_open"

	// ErrorClassCancelled represents work abandoned because the caller's
	// context ended.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassUnknown represents errors this package did not produce.
	ErrorClassUnknown ErrorClass = "unknown"
)

// FetchError is a failed fetch of one entity.
type FetchError struct {
	ID         int
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %d: %s", e.ID, e.Class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is maps the error class onto the package sentinels.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Class == ErrorClassNotFound
	case ErrDecode:
		return e.Class == ErrorClassDecode
	case ErrTransient:
		return shouldRetry(e.Class)
	case ErrPermanent:
		return e.Class == ErrorClassClient
	}
	return false
}

// shouldRetry determines if an error class may succeed on a later attempt.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassCircuitOpen:
		return true
	default:
		// not_found, decode and client errors never change on retry
		return false
	}
}

// IsRetryable reports whether err is a transient fetch failure.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return shouldRetry(fe.Class)
	}
	return false
}

// ClassOf returns the error class of err.
func ClassOf(err error) ErrorClass {
	var fe *FetchError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return fe.Class
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassCancelled
	default:
		return ErrorClassUnknown
	}
}
