package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by key kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfix_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"kind"}, // "job", "day"
	)

	// CacheMisses tracks cache misses by key kind
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfix_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"kind"},
	)

	// CacheSize tracks bytes written to the cache
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transfix_cache_size_bytes",
			Help: "Bytes written to the cache by this process",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfix_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
