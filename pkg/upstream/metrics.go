package upstream

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for outbound provider calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightgw_upstream_requests_total",
		Help: "Total upstream requests by provider and status",
	}, []string{"provider", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flightgw_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by provider",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"provider"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightgw_upstream_errors_total",
		Help: "Total upstream errors by provider and class",
	}, []string{"provider", "class"})
)

// Do executes req and records metrics under provider. Transport failures
// come back as an ErrorClassNetwork UpstreamError; HTTP error statuses are
// returned as responses for the caller to classify.
func Do(client *http.Client, req *http.Request, provider string) (*http.Response, error) {
	start := time.Now()
	resp, err := client.Do(req)
	requestDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(provider, "network_error").Inc()
		errorsTotal.WithLabelValues(provider, string(ErrorClassNetwork)).Inc()
		return nil, TransportError(provider, err)
	}

	requestsTotal.WithLabelValues(provider, strconv.Itoa(resp.StatusCode)).Inc()
	if class := ClassifyStatus(resp.StatusCode); class != "" && class != ErrorClassNotFound {
		errorsTotal.WithLabelValues(provider, string(class)).Inc()
	}
	return resp, nil
}
