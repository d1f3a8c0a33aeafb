package glean

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured indicates no API key is available for outbound calls.
var ErrNotConfigured = errors.New("GLEAN_API_KEY environment variable is not set")

// ErrorKind classifies the HTTP status of a Glean response.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnauthorized
	KindForbidden
	KindRateLimited
	KindHTTPStatus
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "http_status"
	}
}

// ClassifyStatus maps an HTTP status code to the error kind surfaced to
// callers. 2xx codes map to KindNone.
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code >= 200 && code < 300:
		return KindNone
	case code == http.StatusUnauthorized:
		return KindUnauthorized
	case code == http.StatusForbidden:
		return KindForbidden
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindHTTPStatus
	}
}

// APIError is a non-2xx answer from the Glean API.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindUnauthorized:
		return "Invalid Glean API key"
	case KindForbidden:
		return "Access forbidden - check API key permissions"
	case KindRateLimited:
		return "Rate limit exceeded"
	}
	if e.Body == "" {
		return fmt.Sprintf("Glean API error: HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("Glean API error: HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// TransportError wraps failures that prevented a response from arriving.
type TransportError struct {
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return "Request to Glean API timed out"
	}
	return fmt.Sprintf("Failed to connect to Glean API: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
