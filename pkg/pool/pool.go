package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/client"
	"github.com/Sternrassler/transfix-export/pkg/enrich"
	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/Sternrassler/transfix-export/pkg/logging"
	"github.com/Sternrassler/transfix-export/pkg/progress"
	"github.com/rs/zerolog"
)

// Config holds worker pool configuration
type Config struct {
	// Concurrency is the number of workers
	Concurrency int
	// UnitTimeout bounds fetch plus enrichment of one unit
	UnitTimeout time.Duration
	// BufferSize of each worker's output channel
	BufferSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 3,
		UnitTimeout: 2 * time.Minute,
		BufferSize:  8,
	}
}

// PayloadFetcher downloads the payload behind a locator. A missing payload
// is reported with an error wrapping client.ErrPayloadNotFound.
type PayloadFetcher interface {
	FetchPayload(ctx context.Context, locator string) ([]byte, error)
}

// Pool processes export units with a fixed number of workers.
type Pool struct {
	payloads PayloadFetcher
	enricher enrich.Enricher
	state    *progress.State
	config   Config
}

// New creates a worker pool.
func New(payloads PayloadFetcher, enricher enrich.Enricher, state *progress.State, config Config) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 3
	}
	if config.UnitTimeout <= 0 {
		config.UnitTimeout = 2 * time.Minute
	}
	if config.BufferSize < 0 {
		config.BufferSize = 0
	}

	return &Pool{
		payloads: payloads,
		enricher: enricher,
		state:    state,
		config:   config,
	}
}

// Start launches the workers on units and returns one output channel per
// worker. Outputs close when their worker exits: when units is closed, ctx
// is done or the run is cancelled.
func (p *Pool) Start(ctx context.Context, units <-chan job.Unit) []<-chan job.Result {
	logger := logging.ForRun("pool", p.state.Snapshot().RunID)
	outs := make([]<-chan job.Result, p.config.Concurrency)
	for i := range outs {
		out := make(chan job.Result, p.config.BufferSize)
		outs[i] = out
		activeWorkers.Inc()
		go p.worker(ctx, logger.With().Int("worker_id", i).Logger(), units, out)
	}
	return outs
}

// worker processes units until the shared channel closes or the run stops.
func (p *Pool) worker(ctx context.Context, logger zerolog.Logger, units <-chan job.Unit, out chan<- job.Result) {
	defer activeWorkers.Dec()
	defer close(out)

	processed := 0
	cancelCh := p.state.CancelCh()

	for {
		if p.state.Cancelled() {
			logger.Debug().Int("units_processed", processed).Msg("Worker stopping (run cancelled)")
			return
		}

		var u job.Unit
		var ok bool
		select {
		case u, ok = <-units:
			if !ok {
				if processed > 0 {
					logger.Debug().Int("units_processed", processed).Msg("Worker completed")
				}
				return
			}
		case <-cancelCh:
			continue
		case <-ctx.Done():
			logger.Debug().Int("units_processed", processed).Msg("Worker stopping (context cancelled)")
			return
		}

		// The unit may have been received after cancellation was requested.
		if p.state.Cancelled() {
			continue
		}

		res, emit := p.process(ctx, logger, u)
		processed++
		if !emit {
			continue
		}

		select {
		case out <- res:
		case <-ctx.Done():
			logger.Debug().Int("units_processed", processed).Msg("Worker stopping (context cancelled after process)")
			return
		}
	}
}

// process fetches and enriches u. It reports false when the unit was
// skipped and produces no result.
func (p *Pool) process(ctx context.Context, logger zerolog.Logger, u job.Unit) (job.Result, bool) {
	start := time.Now()
	defer func() {
		unitDuration.Observe(time.Since(start).Seconds())
	}()

	locator, ok := u.Locator()
	if !ok {
		logger.Warn().Str("unit", u.Key()).Msg("Unit has no payload locator, skipping")
		p.done(progress.OutcomeSkipped)
		return job.Result{}, false
	}

	unitCtx, cancel := context.WithTimeout(ctx, p.config.UnitTimeout)
	defer cancel()

	data, err := p.payloads.FetchPayload(unitCtx, locator)
	if errors.Is(err, client.ErrPayloadNotFound) {
		logger.Warn().Err(err).Str("unit", u.Key()).Msg("Payload not found, skipping")
		p.done(progress.OutcomeSkipped)
		return job.Result{}, false
	}
	if err != nil {
		logger.Warn().Err(err).Str("unit", u.Key()).Msg("Payload fetch failed")
		p.done(progress.OutcomeFailed)
		return job.Failure(u, fmt.Errorf("fetch payload: %w", err)), true
	}

	enriched, err := p.enricher.Enrich(unitCtx, u, locator, data)
	if err != nil {
		logger.Warn().Err(err).Str("unit", u.Key()).Msg("Enrichment failed")
		p.done(progress.OutcomeFailed)
		return job.Failure(u, fmt.Errorf("enrich: %w", err)), true
	}

	logger.Debug().
		Str("unit", u.Key()).
		Str("name", enriched.Name).
		Dur("duration", time.Since(start)).
		Msg("Unit processed")

	p.done(progress.OutcomeOK)
	return job.Success(u, enriched.Name, enriched.LastModified, enriched.Data), true
}

func (p *Pool) done(o progress.Outcome) {
	unitsTotal.WithLabelValues(outcomeLabel(o)).Inc()
	p.state.UnitDone(o)
}

func outcomeLabel(o progress.Outcome) string {
	switch o {
	case progress.OutcomeFailed:
		return "failed"
	case progress.OutcomeSkipped:
		return "skipped"
	default:
		return "ok"
	}
}

// Merge fans several result channels into one. The merged channel closes
// after every input has closed.
func Merge(outs ...<-chan job.Result) <-chan job.Result {
	merged := make(chan job.Result)

	var wg sync.WaitGroup
	wg.Add(len(outs))
	for _, out := range outs {
		go func(c <-chan job.Result) {
			defer wg.Done()
			for r := range c {
				merged <- r
			}
		}(out)
	}

	go func() {
		wg.Wait()
		close(merged)
	}()
	return merged
}
