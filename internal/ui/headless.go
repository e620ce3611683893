package ui

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/transfix-export/pkg/progress"
)

// LogProgress logs state snapshots at most once per interval until the run
// finishes or ctx is done.
func LogProgress(ctx context.Context, state *progress.State, logger zerolog.Logger, interval time.Duration) {
	updates, unsubscribe := state.Subscribe()
	defer unsubscribe()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			done := finished(snap)
			if !done && time.Since(last) < interval {
				continue
			}
			last = time.Now()
			logSnapshot(logger, snap)
			if done {
				return
			}
		}
	}
}

func logSnapshot(logger zerolog.Logger, s progress.Snapshot) {
	logger.Info().
		Str("run_id", s.RunID).
		Str("status", string(s.Status)).
		Int("days", s.ProcessedDays).
		Int("total_days", s.TotalDays).
		Int("jobs", s.ProcessedUnitsDiscovered).
		Int("total_jobs", s.TotalUnitsDiscovered).
		Int("files", s.ProcessedExportUnits).
		Int("total_files", s.TotalExportUnits).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Bool("cancelled", s.Cancelled).
		Msg("Export progress")
}
