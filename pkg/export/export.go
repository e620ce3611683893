package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/archive"
	"github.com/Sternrassler/transfix-export/pkg/bridge"
	"github.com/Sternrassler/transfix-export/pkg/enrich"
	"github.com/Sternrassler/transfix-export/pkg/enumerate"
	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/Sternrassler/transfix-export/pkg/logging"
	"github.com/Sternrassler/transfix-export/pkg/pool"
	"github.com/Sternrassler/transfix-export/pkg/progress"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// Names of the bookkeeping entries added to every archive.
const (
	ManifestName = "manifest.jsonl"
	ErrorsName   = "errors.jsonl"
)

var runDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "transfix_export_run_duration_seconds",
		Help:    "Export run duration by final status",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	},
	[]string{"status"},
)

// Config holds export configuration.
type Config struct {
	Enumerate enumerate.Config
	Pool      pool.Config
}

// DefaultConfig returns the default export configuration.
func DefaultConfig() Config {
	return Config{
		Enumerate: enumerate.DefaultConfig(),
		Pool:      pool.DefaultConfig(),
	}
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Status    progress.Status
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Exporter wires the components of an export run.
type Exporter struct {
	store    enumerate.RecordStore
	payloads pool.PayloadFetcher
	enricher enrich.Enricher
	sink     archive.Sink
	state    *progress.State
	cfg      Config

	newRunID func() string
	runID    string
}

// New creates an exporter. The sink receives every entry of one run and is
// closed by Run.
func New(store enumerate.RecordStore, payloads pool.PayloadFetcher, enricher enrich.Enricher, sink archive.Sink, state *progress.State, cfg Config) *Exporter {
	return &Exporter{
		store:    store,
		payloads: payloads,
		enricher: enricher,
		sink:     sink,
		state:    state,
		cfg:      cfg,
		newRunID: uuid.NewString,
	}
}

// collector accumulates results into the sink and the bookkeeping logs.
type collector struct {
	sink archive.Sink

	mu        sync.Mutex
	manifest  bytes.Buffer
	errorLog  bytes.Buffer
	succeeded int
	failed    int
	sinkErr   error
}

// Prepare starts the next run on the shared state and returns its id.
// Cancellation requested after Prepare applies to the following Run. Run
// calls Prepare itself when it was not called.
func (e *Exporter) Prepare() (string, error) {
	if e.runID != "" {
		return e.runID, nil
	}
	runID := e.newRunID()
	if err := e.state.Reset(runID); err != nil {
		return "", err
	}
	e.runID = runID
	return runID, nil
}

// Run performs one export. The returned error is non-nil only when the run
// failed; Summary.Status tells completed, canceled and failed apart.
func (e *Exporter) Run(ctx context.Context) (Summary, error) {
	runID, err := e.Prepare()
	if err != nil {
		return Summary{}, err
	}
	e.runID = ""

	logger := logging.ForRun("export", runID)
	logger.Info().Msg("Export started")
	start := time.Now()

	units := bridge.New[job.Unit]()
	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	enumerator := enumerate.New(e.store, e.state, e.cfg.Enumerate)
	workers := pool.New(e.payloads, e.enricher, e.state, e.cfg.Pool)
	col := &collector{sink: e.sink}

	var g errgroup.Group
	g.Go(func() error {
		return enumerator.Run(workCtx, units)
	})
	g.Go(func() error {
		results := pool.Merge(workers.Start(workCtx, units.Stream(workCtx))...)
		for res := range results {
			if err := col.add(res); err != nil {
				logger.Error().Err(err).Str("unit", res.Unit.Key()).Msg("Archive write failed, stopping workers")
				stopWork()
			}
		}
		return col.err()
	})
	runErr := g.Wait()
	// Releases the stream if the workers stopped before it was drained.
	stopWork()

	// An enumerator failing on the stopped stream may have won the race.
	if sinkErr := col.err(); sinkErr != nil && !errors.Is(runErr, sinkErr) {
		runErr = errors.Join(runErr, sinkErr)
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Export failed, finalizing partial archive")
	}

	if err := col.finalize(); err != nil {
		logger.Error().Err(err).Msg("Failed to finalize archive")
		runErr = errors.Join(runErr, err)
	}

	status := e.state.Finish(runErr)
	snap := e.state.Snapshot()

	summary := Summary{
		RunID:     runID,
		Status:    status,
		Succeeded: col.succeeded,
		Failed:    snap.Failed,
		Skipped:   snap.Skipped,
		Duration:  time.Since(start),
	}
	runDuration.WithLabelValues(string(status)).Observe(summary.Duration.Seconds())

	logger.Info().
		Str("status", string(status)).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("Export finished")

	if status == progress.StatusFailed {
		return summary, runErr
	}
	return summary, nil
}

// add records one result. After the first sink error results are only
// drained.
func (c *collector) add(res job.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sinkErr != nil {
		return nil
	}

	if line, err := job.ManifestLine(res); err == nil {
		c.manifest.Write(line)
		c.manifest.WriteByte('\n')
	}

	if !res.OK {
		c.failed++
		if line, err := job.ErrorLine(res); err == nil {
			c.errorLog.Write(line)
			c.errorLog.WriteByte('\n')
		}
		return nil
	}

	if err := c.sink.Push(archive.Entry{
		Name:         res.Name,
		LastModified: res.LastModified,
		Data:         res.Data,
	}); err != nil {
		c.sinkErr = fmt.Errorf("archive %s: %w", res.Unit.Key(), err)
		return c.sinkErr
	}
	c.succeeded++
	return nil
}

func (c *collector) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sinkErr
}

// finalize writes the manifest and, if any unit failed, the error log, then
// closes the sink.
func (c *collector) finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	var errs []error
	if c.sinkErr == nil {
		if err := c.sink.Push(archive.Entry{Name: ManifestName, LastModified: now, Data: c.manifest.Bytes()}); err != nil {
			errs = append(errs, fmt.Errorf("write manifest: %w", err))
		}
		if c.failed > 0 {
			if err := c.sink.Push(archive.Entry{Name: ErrorsName, LastModified: now, Data: c.errorLog.Bytes()}); err != nil {
				errs = append(errs, fmt.Errorf("write error log: %w", err))
			}
		}
	}
	if err := c.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close archive: %w", err))
	}
	return errors.Join(errs...)
}
