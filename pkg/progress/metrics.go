package progress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// progressCounters mirrors the State counters.
	progressCounters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transfix_progress",
			Help: "Current export run progress by counter",
		},
		[]string{"counter"},
	)

	// runRunning is 1 while an export run is active.
	runRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transfix_run_running",
		Help: "Whether an export run is currently active (1) or not (0)",
	})

	// runsFinished counts finished runs by final status.
	runsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfix_runs_finished_total",
			Help: "Finished export runs by final status",
		},
		[]string{"status"},
	)

	// cancellations counts cooperative cancel requests that flipped the flag.
	cancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfix_cancellations_total",
		Help: "Cancellation requests that stopped a running export",
	})
)

func (s Snapshot) export() {
	progressCounters.WithLabelValues("total_days").Set(float64(s.TotalDays))
	progressCounters.WithLabelValues("processed_days").Set(float64(s.ProcessedDays))
	progressCounters.WithLabelValues("total_units_discovered").Set(float64(s.TotalUnitsDiscovered))
	progressCounters.WithLabelValues("processed_units_discovered").Set(float64(s.ProcessedUnitsDiscovered))
	progressCounters.WithLabelValues("total_export_units").Set(float64(s.TotalExportUnits))
	progressCounters.WithLabelValues("processed_export_units").Set(float64(s.ProcessedExportUnits))
	progressCounters.WithLabelValues("failed").Set(float64(s.Failed))
	progressCounters.WithLabelValues("skipped").Set(float64(s.Skipped))
	if s.Running {
		runRunning.Set(1)
	} else {
		runRunning.Set(0)
	}
}
