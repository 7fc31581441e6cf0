package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightgw_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"}, // "kv", "row", "edge"
	)

	// CacheMisses tracks lookups that missed every probed tier
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flightgw_cache_misses_total",
			Help: "Total number of lookups that missed every tier",
		},
	)

	// CacheErrors tracks backend operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightgw_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"backend", "operation"},
	)

	// CacheWrites tracks tier writes by tier and result class
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightgw_cache_writes_total",
			Help: "Total number of cache writes by tier and class",
		},
		[]string{"tier", "class"}, // class: "positive", "negative", "transient"
	)

	// CacheRepopulations tracks KV refills from the row store
	CacheRepopulations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flightgw_cache_repopulations_total",
			Help: "Total number of KV tier refills from the row store",
		},
	)

	// CacheEvictions tracks capacity evictions in memory stores
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightgw_cache_evictions_total",
			Help: "Total number of capacity evictions",
		},
		[]string{"backend"},
	)
)
