package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{http.StatusOK, ""},
		{http.StatusNoContent, ErrorClassNotFound},
		{http.StatusNotFound, ErrorClassNotFound},
		{http.StatusUnauthorized, ErrorClassAuth},
		{http.StatusForbidden, ErrorClassAuth},
		{http.StatusTooManyRequests, ErrorClassRateLimit},
		{http.StatusBadRequest, ErrorClassClient},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusServiceUnavailable, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			if got := ClassifyStatus(tt.status); got != tt.expected {
				t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestIsFailover(t *testing.T) {
	status := func(code int) error {
		return &UpstreamError{Provider: "opensky", StatusCode: code, Class: ClassifyStatus(code)}
	}

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"429", status(429), true},
		{"502", status(502), true},
		{"503", status(503), true},
		{"504", status(504), true},
		{"500 is not failover", status(500), false},
		{"401 is not failover", status(401), false},
		{"400 is not failover", status(400), false},
		{"transport", TransportError("opensky", errors.New("connection refused")), true},
		{"bare deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), true},
		{"malformed", MalformedError("opensky", 200, nil), false},
		{"wrapped 503", fmt.Errorf("states: %w", status(503)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFailover(tt.err); got != tt.expected {
				t.Errorf("IsFailover(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestUpstreamError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *UpstreamError
		expected string
	}{
		{
			name: "with wrapped error",
			err: &UpstreamError{
				Provider:   "adsb.lol",
				StatusCode: 0,
				Class:      ErrorClassNetwork,
				Message:    "request failed",
				Err:        errors.New("connection refused"),
			},
			expected: "adsb.lol network error (status 0): request failed: connection refused",
		},
		{
			name: "without wrapped error",
			err: &UpstreamError{
				Provider:   "opensky",
				StatusCode: 503,
				Class:      ErrorClassServer,
				Message:    "503 Service Unavailable",
			},
			expected: "opensky server error (status 503): 503 Service Unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestMalformedError_WrapsSentinel(t *testing.T) {
	err := MalformedError("aerodatabox", 200, errors.New("unexpected end of JSON input"))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Error("errors.Is(err, ErrMalformedPayload) should be true")
	}
	if ClassOf(err) != ErrorClassMalformed {
		t.Errorf("ClassOf = %q, want %q", ClassOf(err), ErrorClassMalformed)
	}
}

func TestStatusOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", &UpstreamError{StatusCode: 429})
	if got := StatusOf(wrapped); got != 429 {
		t.Errorf("StatusOf = %d, want 429", got)
	}
	if got := StatusOf(errors.New("plain")); got != 0 {
		t.Errorf("StatusOf(plain) = %d, want 0", got)
	}
}
