// Package upstream holds the plumbing shared by every outbound provider
// call: error classification, the typed upstream error and the HTTP client
// factory.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassAuth is a 401/403 from the provider.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassClient is any other 4xx.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassNotFound is a 404 or 204 ("nothing known about this entity").
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassRateLimit is a 429.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer is a 5xx.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork covers transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassMalformed is a 2xx whose body does not have the expected shape.
	ErrorClassMalformed ErrorClass = "malformed"
)

// ErrMalformedPayload is wrapped by every ErrorClassMalformed error.
var ErrMalformedPayload = errors.New("malformed upstream payload")

// UpstreamError describes a failed provider call.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error (status %d): %s: %v",
			e.Provider, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s error (status %d): %s",
		e.Provider, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to an ErrorClass. 2xx other than
// 204 returns the empty class.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusNoContent || status == http.StatusNotFound:
		return ErrorClassNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorClassAuth
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// StatusError builds an UpstreamError from a non-success response.
func StatusError(provider string, resp *http.Response) *UpstreamError {
	return &UpstreamError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Class:      ClassifyStatus(resp.StatusCode),
		Message:    resp.Status,
	}
}

// TransportError wraps a failed round trip (dial error, reset, timeout).
func TransportError(provider string, err error) *UpstreamError {
	return &UpstreamError{
		Provider: provider,
		Class:    ErrorClassNetwork,
		Message:  "request failed",
		Err:      err,
	}
}

// MalformedError wraps a decode failure or unexpected payload shape.
func MalformedError(provider string, status int, err error) *UpstreamError {
	if err == nil {
		err = ErrMalformedPayload
	} else {
		err = fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &UpstreamError{
		Provider:   provider,
		StatusCode: status,
		Class:      ErrorClassMalformed,
		Message:    "unexpected payload",
		Err:        err,
	}
}

// ClassOf extracts the ErrorClass from err. Context deadline and net errors
// without an UpstreamError wrapper count as network failures.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Class
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &ne) {
		return ErrorClassNetwork
	}
	return ""
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}

// IsFailover reports whether err should switch traffic to a secondary
// provider: 429, 502, 503, 504, timeouts and transport errors. A plain 500
// and client errors do not qualify.
func IsFailover(err error) bool {
	if err == nil {
		return false
	}
	if ClassOf(err) == ErrorClassNetwork {
		return true
	}
	switch StatusOf(err) {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
