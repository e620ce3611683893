package enumerate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/bridge"
	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/Sternrassler/transfix-export/pkg/logging"
	"github.com/Sternrassler/transfix-export/pkg/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultBatchSize is the maximum number of identifiers per detail request.
const DefaultBatchSize = 50

// DayLayout is the date format used for days.
const DayLayout = "2006-01-02"

// ErrEnumeration wraps every remote failure that aborts enumeration.
var ErrEnumeration = errors.New("enumeration failed")

var (
	detailBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transfix_detail_batch_size",
		Help:    "Number of identifiers per detail request",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	})

	daysFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfix_days_fetched_total",
		Help: "Day listings fetched from the record store",
	})
)

// DayFilter holds extra query parameters for a day listing.
type DayFilter map[string]string

// RecordStore is the remote archive.
type RecordStore interface {
	// FetchDay returns the record stubs listed for day.
	FetchDay(ctx context.Context, day time.Time, filter DayFilter) ([]job.RecordStub, error)
	// FetchDetails resolves ids into full records in one request.
	FetchDetails(ctx context.Context, ids []string) ([]job.Record, error)
}

// DayLister is implemented by stores that can list the days that have
// records. It is used when neither a range nor explicit days are configured.
type DayLister interface {
	ListDays(ctx context.Context) ([]time.Time, error)
}

// Config holds enumerator configuration.
type Config struct {
	// From and To bound the walked days, both inclusive.
	From time.Time
	To   time.Time

	// Days overrides From/To with an explicit list.
	Days []time.Time

	// JobIDs resolves these jobs directly instead of walking days. Day
	// settings and Predicate are ignored.
	JobIDs []string

	// Predicate selects stubs to export (nil: all).
	Predicate job.Predicate

	// Split decides per record whether it is expanded into parts.
	Split job.SplitMode

	// BatchSize is the maximum number of ids per detail request.
	BatchSize int

	// Filter is passed through to every day listing.
	Filter DayFilter

	// OldestFirst walks days in ascending order. Default is newest first.
	OldestFirst bool
}

// DefaultConfig returns the default enumerator configuration.
func DefaultConfig() Config {
	return Config{
		Split:     job.SplitNone,
		BatchSize: DefaultBatchSize,
	}
}

// Enumerator produces export units for one run.
type Enumerator struct {
	store RecordStore
	state *progress.State
	cfg   Config
}

// New creates an enumerator.
func New(store RecordStore, state *progress.State, cfg Config) *Enumerator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Split == "" {
		cfg.Split = job.SplitNone
	}
	return &Enumerator{
		store: store,
		state: state,
		cfg:   cfg,
	}
}

// Run enumerates every configured day, or the configured job ids, and pushes
// the resulting units to out.
// out is always closed when Run returns. Cancellation is checked before each
// day and before each detail request; a cancelled run returns nil.
func (e *Enumerator) Run(ctx context.Context, out *bridge.Channel[job.Unit]) error {
	defer out.Close()

	logger := logging.ForRun("enumerate", e.state.Snapshot().RunID)

	if len(e.cfg.JobIDs) > 0 {
		return e.runJobIDs(ctx, logger, out)
	}

	days, err := e.days(ctx)
	if err != nil {
		return fmt.Errorf("%w: list days: %w", ErrEnumeration, err)
	}
	e.state.SetTotalDays(len(days))

	logger.Info().
		Int("days", len(days)).
		Int("batch_size", e.cfg.BatchSize).
		Str("split", string(e.cfg.Split)).
		Msg("Starting enumeration")

	var (
		batch   []job.RecordStub
		emitted int
	)
	for _, day := range days {
		if e.state.Cancelled() {
			logger.Info().Str("day", day.Format(DayLayout)).Msg("Enumeration cancelled")
			return nil
		}

		stubs, err := e.store.FetchDay(ctx, day, e.cfg.Filter)
		if err != nil {
			return fmt.Errorf("%w: fetch day %s: %w", ErrEnumeration, day.Format(DayLayout), err)
		}
		daysFetched.Inc()

		matched := job.Filter(stubs, e.cfg.Predicate)
		e.state.DayDone(len(matched))
		batch = append(batch, matched...)

		logger.Debug().
			Str("day", day.Format(DayLayout)).
			Int("listed", len(stubs)).
			Int("matched", len(matched)).
			Msg("Day fetched")

		for len(batch) >= e.cfg.BatchSize {
			if e.state.Cancelled() {
				logger.Info().Int("pending", len(batch)).Msg("Enumeration cancelled")
				return nil
			}
			n, err := e.flush(ctx, batch[:e.cfg.BatchSize], out)
			if err != nil {
				return err
			}
			emitted += n
			batch = batch[e.cfg.BatchSize:]
		}
	}

	if len(batch) > 0 {
		if e.state.Cancelled() {
			logger.Info().Int("pending", len(batch)).Msg("Enumeration cancelled")
			return nil
		}
		n, err := e.flush(ctx, batch, out)
		if err != nil {
			return err
		}
		emitted += n
	}

	logger.Info().Int("units", emitted).Msg("Enumeration complete")
	return nil
}

// runJobIDs resolves the configured ids in batches without listing days.
func (e *Enumerator) runJobIDs(ctx context.Context, logger zerolog.Logger, out *bridge.Channel[job.Unit]) error {
	seen := make(map[string]struct{}, len(e.cfg.JobIDs))
	var pending []job.RecordStub
	for _, id := range e.cfg.JobIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		pending = append(pending, job.RecordStub{ID: id})
	}
	e.state.Discovered(len(pending))

	logger.Info().
		Int("jobs", len(pending)).
		Int("batch_size", e.cfg.BatchSize).
		Str("split", string(e.cfg.Split)).
		Msg("Starting enumeration of listed jobs")

	emitted := 0
	for len(pending) > 0 {
		if e.state.Cancelled() {
			logger.Info().Int("pending", len(pending)).Msg("Enumeration cancelled")
			return nil
		}
		n := min(e.cfg.BatchSize, len(pending))
		pushed, err := e.flush(ctx, pending[:n], out)
		if err != nil {
			return err
		}
		emitted += pushed
		pending = pending[n:]
	}

	logger.Info().Int("units", emitted).Msg("Enumeration complete")
	return nil
}

// flush resolves one batch of stubs, expands the records and pushes the
// units. It returns the number of units pushed.
func (e *Enumerator) flush(ctx context.Context, stubs []job.RecordStub, out *bridge.Channel[job.Unit]) (int, error) {
	ids := make([]string, len(stubs))
	for i, s := range stubs {
		ids[i] = s.ID
	}
	detailBatchSize.Observe(float64(len(ids)))

	records, err := e.store.FetchDetails(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch details for %d ids: %w", ErrEnumeration, len(ids), err)
	}

	var units []job.Unit
	for _, rec := range records {
		units = append(units, job.Expand(rec, e.cfg.Split.ShouldSplit(rec))...)
	}
	e.state.BatchResolved(len(records), len(units))

	for _, u := range units {
		if err := out.Push(u); err != nil {
			return 0, fmt.Errorf("push unit %s: %w", u.Key(), err)
		}
	}
	return len(units), nil
}

// days resolves the configured day list in walking order.
func (e *Enumerator) days(ctx context.Context) ([]time.Time, error) {
	var days []time.Time
	switch {
	case len(e.cfg.Days) > 0:
		days = slices.Clone(e.cfg.Days)
	case !e.cfg.From.IsZero() || !e.cfg.To.IsZero():
		var err error
		days, err = DayRange(e.cfg.From, e.cfg.To)
		if err != nil {
			return nil, err
		}
	default:
		lister, ok := e.store.(DayLister)
		if !ok {
			return nil, errors.New("no days configured and store cannot list days")
		}
		var err error
		days, err = lister.ListDays(ctx)
		if err != nil {
			return nil, err
		}
	}

	for i := range days {
		days[i] = truncateDay(days[i])
	}
	slices.SortStableFunc(days, func(a, b time.Time) int {
		if e.cfg.OldestFirst {
			return a.Compare(b)
		}
		return b.Compare(a)
	})
	return slices.CompactFunc(days, time.Time.Equal), nil
}

// DayRange returns every day between from and to inclusive in ascending
// order. A zero from or to collapses the range to the other bound.
func DayRange(from, to time.Time) ([]time.Time, error) {
	if from.IsZero() {
		from = to
	}
	if to.IsZero() {
		to = from
	}
	from, to = truncateDay(from), truncateDay(to)
	if to.Before(from) {
		return nil, fmt.Errorf("invalid day range: %s is after %s", from.Format(DayLayout), to.Format(DayLayout))
	}

	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// ParseDay parses a YYYY-MM-DD day in UTC.
func ParseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DayLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return d, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
