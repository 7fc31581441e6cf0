// Package metrics exposes the Prometheus registry shared by the gateway.
// All metrics are defined in their respective packages (cache, ratelimit,
// states, enrich, ...) and registered via promauto, which avoids import
// cycles; this package only serves them and documents the catalog.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every gateway metric is added to.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics served on /metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics handler over Gatherer.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// HTTP Metrics (internal/server):
//   - flightgw_http_requests_total{route, status} (Counter): Requests served
//   - flightgw_http_request_duration_seconds{route} (Histogram): Request latency
//
// Upstream Metrics (pkg/upstream):
//   - flightgw_upstream_requests_total{provider, status} (Counter): Upstream requests by status
//   - flightgw_upstream_request_duration_seconds{provider} (Histogram): Upstream latency
//   - flightgw_upstream_errors_total{provider, class} (Counter): Errors by class (auth, client, not_found, rate_limit, server, network, malformed)
//
// Cache Metrics (pkg/cache):
//   - flightgw_cache_hits_total{tier} (Counter): Hits by tier (kv, row, edge)
//   - flightgw_cache_misses_total (Counter): Lookups that missed every tier
//   - flightgw_cache_writes_total{tier, class} (Counter): Writes by tier and class
//   - flightgw_cache_errors_total{backend, operation} (Counter): Backend errors
//   - flightgw_cache_repopulations_total (Counter): KV refills from the row store
//   - flightgw_cache_evictions_total{backend} (Counter): Capacity evictions
//
// States Metrics (pkg/states):
//   - flightgw_states_fetches_total{provider, result} (Counter): Fetch cycles by serving provider
//   - flightgw_states_failovers_total{class} (Counter): Switches to adsb.lol by primary error class
//
// Enrichment Metrics (pkg/enrich, pkg/ratelimit):
//   - flightgw_enrich_results_total{kind, outcome, source} (Counter): Results by outcome
//   - flightgw_gate_decisions_total{kind, reason} (Counter): Gate decisions
//   - flightgw_gate_budget_used{window} (Gauge): Metered calls in the current day/hour window
//   - flightgw_gate_provider_cooldowns_total (Counter): Provider cooldowns after upstream 429
//   - flightgw_hard_cap_trips_total (Counter): Calls vetoed by the hard daily budget
//
// Background Metrics (pkg/swr, pkg/token):
//   - flightgw_swr_refreshes_total{result} (Counter): Stale-while-revalidate refreshes
//   - flightgw_background_tasks_total{name, outcome} (Counter): Background tasks run or dropped
//   - flightgw_background_tasks_in_flight (Gauge): Running background tasks
//   - flightgw_token_fetches_total{result} (Counter): OpenSky token requests
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(flightgw_cache_hits_total[5m])) /
//   (sum(rate(flightgw_cache_hits_total[5m])) + sum(rate(flightgw_cache_misses_total[5m])))
//
//   # Failover Rate
//   sum(rate(flightgw_states_fetches_total{provider="adsb.lol"}[5m])) /
//   sum(rate(flightgw_states_fetches_total[5m]))
//
//   # Metered Calls Today
//   flightgw_gate_budget_used{window="day"}
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(flightgw_upstream_request_duration_seconds_bucket[5m]))
