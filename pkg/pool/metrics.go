package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfix_pool_units_total",
			Help: "Total export units processed by outcome",
		},
		[]string{"outcome"},
	)

	unitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfix_pool_unit_duration_seconds",
			Help:    "Fetch plus enrichment duration per unit",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transfix_pool_active_workers",
			Help: "Number of running workers",
		},
	)
)
