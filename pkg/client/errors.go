package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRateLimited is returned when the rate limiter blocks a request.
	ErrRateLimited = errors.New("request blocked: rate limit critical")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and local rate limit blocks.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connectivity and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents unreadable or malformed bodies.
	ErrorClassDecode ErrorClass = "decode"
)

// FetchError describes a failed request with its classification.
type FetchError struct {
	StatusCode int
	ErrorClass ErrorClass
	URL        string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClassOf returns the ErrorClass carried by err, or "" if none.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.ErrorClass
	}
	if errors.Is(err, ErrRateLimited) {
		return ErrorClassRateLimit
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient, ErrorClassDecode:
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
