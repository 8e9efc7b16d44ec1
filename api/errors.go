package api

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrNoResponse indicates the request never produced an HTTP response.
var ErrNoResponse = errors.New("api: no response from server")

// Error is an HTTP-level error returned by the StateSet API.
type Error struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// Code is the machine-readable error code from the response body.
	Code string

	// Message is the human-readable error message from the response body.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether a failed request may be retried.
//
// Retryable failures are: no response at all (transport errors, resets,
// unknown hosts), server errors (status >= 500), and rate limiting
// (status 429). All other HTTP errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}

	if errors.Is(err, ErrNoResponse) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		// Timeouts and other transport failures never produced a response.
		return true
	}

	return false
}
