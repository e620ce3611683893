package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transfix_archive_entries_total",
			Help: "Total entries written to the archive",
		},
	)

	entriesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transfix_archive_entry_errors_total",
			Help: "Total entries that could not be written",
		},
	)

	bytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transfix_archive_bytes_total",
			Help: "Total payload bytes written to the archive",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfix_archive_uploads_total",
			Help: "Total archive uploads by status",
		},
		[]string{"status"},
	)
)
