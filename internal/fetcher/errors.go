package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of failure that occurred during a request
type ErrorKind string

const (
	// KindClient indicates a client error (HTTP 4xx except 429), never retried
	KindClient ErrorKind = "client"
	// KindServer indicates a server error (HTTP 5xx)
	KindServer ErrorKind = "server"
	// KindRateLimit indicates the request was rejected due to rate limiting (HTTP 429)
	KindRateLimit ErrorKind = "rate_limit"
	// KindConnection indicates a network-level error (connection refused, DNS, reset, timeout)
	KindConnection ErrorKind = "connection"
	// KindDecode indicates the response body was not valid JSON for the expected shape
	KindDecode ErrorKind = "decode"
)

// TransportError represents a classified failure of a single request attempt
type TransportError struct {
	Kind       ErrorKind
	StatusCode int
	Path       string
	Detail     string
	Cause      error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d) on %s: %s", e.Kind, e.StatusCode, e.Path, e.Detail)
	}
	return fmt.Sprintf("%s error on %s: %s", e.Kind, e.Path, e.Detail)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether another attempt may succeed
func (e *TransportError) Retryable() bool {
	switch e.Kind {
	case KindServer, KindRateLimit, KindConnection:
		return true
	default:
		return false
	}
}

// RetriesExhaustedError is returned once every allowed attempt failed with a retryable error
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

// NewConnectionError creates a connection error
func NewConnectionError(path string, cause error) *TransportError {
	return &TransportError{
		Kind:   KindConnection,
		Path:   path,
		Detail: "request failed",
		Cause:  cause,
	}
}

// NewDecodeError creates a decode error
func NewDecodeError(path string, cause error) *TransportError {
	return &TransportError{
		Kind:   KindDecode,
		Path:   path,
		Detail: "response is not valid JSON",
		Cause:  cause,
	}
}

// ClassifyStatus classifies a non-2xx HTTP status code into a TransportError.
// body is an excerpt of the response used as detail.
func ClassifyStatus(path string, statusCode int, body string) *TransportError {
	detail := body
	if detail == "" {
		detail = http.StatusText(statusCode)
	}
	if len(detail) > 256 {
		detail = detail[:256]
	}

	kind := KindClient
	switch {
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimit
	case statusCode >= 500:
		kind = KindServer
	}

	return &TransportError{
		Kind:       kind,
		StatusCode: statusCode,
		Path:       path,
		Detail:     detail,
	}
}

// IsRetryable reports whether err carries a retryable classification
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

// KindOf returns the classification of err, or the empty kind when err is not a TransportError
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
