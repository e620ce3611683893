package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfix_store_requests_total",
			Help: "Total archive API requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transfix_store_request_duration_seconds",
			Help:    "Archive API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	recordsCached = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfix_store_records_total",
			Help: "Records resolved by source",
		},
		[]string{"source"},
	)
)
