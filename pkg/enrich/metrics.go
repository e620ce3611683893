package enrich

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enrichTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfix_enrich_total",
			Help: "Total enrichment calls by mode and status",
		},
		[]string{"mode", "status"},
	)

	enrichDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transfix_enrich_duration_seconds",
			Help:    "Enrichment call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
)
