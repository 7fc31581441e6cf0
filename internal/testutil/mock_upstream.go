// Package testutil provides mock upstream providers for gateway tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock provider server. Handlers are keyed
// by exact path; a key ending in "/" also matches every path below it,
// longest key first.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requestCount      int
	pathCounts        map[string]int
	lastRequestHeader http.Header
	lastRequestURL    string
}

// NewMockUpstream creates and starts a mock provider.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.lastRequestHeader = r.Header.Clone()
		mock.lastRequestURL = r.URL.String()
		mock.mu.Unlock()

		if handler := mock.match(r.URL.Path); handler != nil {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pathCounts = make(map[string]int)
	m.lastRequestHeader = nil
	m.lastRequestURL = ""
}

// SetHandler sets a custom handler for a path or path prefix.
func (m *MockUpstream) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path or path prefix.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockUpstream) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests whose path starts with prefix.
func (m *MockUpstream) PathCount(prefix string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for p, c := range m.pathCounts {
		if strings.HasPrefix(p, prefix) {
			n += c
		}
	}
	return n
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockUpstream) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// LastRequestURL returns the path and query of the most recent request.
func (m *MockUpstream) LastRequestURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestURL
}

func (m *MockUpstream) match(path string) http.HandlerFunc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if h, ok := m.handlers[path]; ok {
		return h
	}
	var best string
	for key := range m.handlers {
		if strings.HasSuffix(key, "/") && strings.HasPrefix(path, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return nil
	}
	return m.handlers[best]
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewStatusResponse creates an error response with a small JSON body.
func NewStatusResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"error":"` + http.StatusText(status) + `"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	resp := NewStatusResponse(http.StatusTooManyRequests)
	resp.Headers["Retry-After"] = "60"
	return resp
}
