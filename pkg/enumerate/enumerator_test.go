package enumerate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/transfix-export/pkg/bridge"
	"github.com/Sternrassler/transfix-export/pkg/job"
	"github.com/Sternrassler/transfix-export/pkg/progress"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore serves stubs per day and resolves every id into a record with
// images[id] locators (default one).
type fakeStore struct {
	mu sync.Mutex

	days   map[string][]job.RecordStub
	images map[string]int
	listed []time.Time

	dayErr    error
	detailErr error

	dayCalls    []string
	detailCalls [][]string

	onDay func(day time.Time)
}

func (f *fakeStore) FetchDay(_ context.Context, day time.Time, _ DayFilter) ([]job.RecordStub, error) {
	f.mu.Lock()
	f.dayCalls = append(f.dayCalls, day.Format(DayLayout))
	f.mu.Unlock()
	if f.onDay != nil {
		f.onDay(day)
	}
	if f.dayErr != nil {
		return nil, f.dayErr
	}
	return f.days[day.Format(DayLayout)], nil
}

func (f *fakeStore) FetchDetails(_ context.Context, ids []string) ([]job.Record, error) {
	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, append([]string(nil), ids...))
	f.mu.Unlock()
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	recs := make([]job.Record, 0, len(ids))
	for _, id := range ids {
		n := f.images[id]
		if n == 0 {
			n = 1
		}
		rec := job.Record{ID: id, Type: "upscale"}
		for i := 0; i < n; i++ {
			rec.ImagePaths = append(rec.ImagePaths, fmt.Sprintf("https://cdn.example/%s/%d.png", id, i))
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

type listingStore struct {
	*fakeStore
}

func (l listingStore) ListDays(context.Context) ([]time.Time, error) {
	return l.listed, nil
}

func stubs(prefix string, n int, typ string) []job.RecordStub {
	out := make([]job.RecordStub, n)
	for i := range out {
		out[i] = job.RecordStub{ID: fmt.Sprintf("%s-%d", prefix, i), Type: typ}
	}
	return out
}

func day(s string) time.Time {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func drain(t *testing.T, ch *bridge.Channel[job.Unit]) []job.Unit {
	t.Helper()
	var units []job.Unit
	for u := range ch.Stream(context.Background()) {
		units = append(units, u)
	}
	return units
}

func newState(t *testing.T) *progress.State {
	t.Helper()
	s := progress.NewState()
	require.NoError(t, s.Reset("test"))
	return s
}

func TestEnumerator_TwoDayScenario(t *testing.T) {
	store := &fakeStore{
		days: map[string][]job.RecordStub{
			"2024-03-02": stubs("a", 3, "upscale"),
			"2024-03-01": stubs("b", 1, "upscale"),
		},
	}
	state := newState(t)
	e := New(store, state, Config{
		From:      day("2024-03-01"),
		To:        day("2024-03-02"),
		BatchSize: 2,
	})

	ch := bridge.New[job.Unit]()
	require.NoError(t, e.Run(context.Background(), ch))
	units := drain(t, ch)

	assert.Equal(t, []string{"2024-03-02", "2024-03-01"}, store.dayCalls)
	require.Len(t, store.detailCalls, 2)
	assert.Equal(t, []string{"a-0", "a-1"}, store.detailCalls[0])
	assert.Equal(t, []string{"a-2", "b-0"}, store.detailCalls[1])

	require.Len(t, units, 4)
	for i, id := range []string{"a-0", "a-1", "a-2", "b-0"} {
		assert.Equal(t, id, units[i].ID)
	}

	snap := state.Snapshot()
	assert.Equal(t, 2, snap.TotalDays)
	assert.Equal(t, 2, snap.ProcessedDays)
	assert.Equal(t, 4, snap.TotalUnitsDiscovered)
	assert.Equal(t, 4, snap.ProcessedUnitsDiscovered)
	assert.Equal(t, 4, snap.TotalExportUnits)
}

func TestEnumerator_BatchThreshold(t *testing.T) {
	counts := []int{0, 7, 120, 49, 1, 50, 3}
	store := &fakeStore{days: map[string][]job.RecordStub{}}
	var days []time.Time
	total := 0
	for i, n := range counts {
		d := day("2024-01-01").AddDate(0, 0, i)
		days = append(days, d)
		store.days[d.Format(DayLayout)] = stubs(fmt.Sprintf("d%d", i), n, "upscale")
		total += n
	}

	e := New(store, newState(t), Config{Days: days})
	ch := bridge.New[job.Unit]()
	require.NoError(t, e.Run(context.Background(), ch))
	units := drain(t, ch)

	seen := 0
	for _, call := range store.detailCalls {
		assert.LessOrEqual(t, len(call), DefaultBatchSize)
		assert.NotEmpty(t, call)
		seen += len(call)
	}
	assert.Equal(t, total, seen)
	assert.Len(t, units, total)
}

func TestEnumerator_JobIDs(t *testing.T) {
	store := &fakeStore{images: map[string]int{"b": 2}}
	state := newState(t)
	e := New(store, state, Config{
		Days:      []time.Time{day("2024-01-01")},
		JobIDs:    []string{"a", "b", "", "a", "c"},
		Predicate: job.TypeIn("grid"),
		Split:     job.SplitAll,
		BatchSize: 2,
	})

	ch := bridge.New[job.Unit]()
	require.NoError(t, e.Run(context.Background(), ch))
	units := drain(t, ch)

	assert.Empty(t, store.dayCalls, "listed jobs need no day listing")
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, store.detailCalls)
	require.Len(t, units, 4)
	assert.Equal(t, "a", units[0].ID)
	assert.Equal(t, "c", units[3].ID)

	snap := state.Snapshot()
	assert.Zero(t, snap.ProcessedDays)
	assert.Equal(t, 3, snap.TotalUnitsDiscovered)
	assert.Equal(t, 3, snap.ProcessedUnitsDiscovered)
	assert.Equal(t, 4, snap.TotalExportUnits)
}

func TestEnumerator_JobIDsCancelled(t *testing.T) {
	store := &fakeStore{}
	state := newState(t)
	state.Cancel()

	e := New(store, state, Config{JobIDs: []string{"a", "b"}})
	ch := bridge.New[job.Unit]()
	require.NoError(t, e.Run(context.Background(), ch))

	assert.Empty(t, store.detailCalls)
	assert.Empty(t, drain(t, ch))
}

func TestEnumerator_LogsCarryRunID(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	store := &fakeStore{days: map[string][]job.RecordStub{"2024-01-01": stubs("a", 1, "upscale")}}
	e := New(store, newState(t), Config{Days: []time.Time{day("2024-01-01")}})
	ch := bridge.New[job.Unit]()
	require.NoError(t, e.Run(context.Background(), ch))
	drain(t, ch)

	assert.Contains(t, buf.String(), `"run_id":"test"`)
	assert.Contains(t, buf.String(), `"component":"enumerate"`)
}

func TestEnumerator_PredicateFilters(t *testing.T) {
	all := append(stubs("u", 2, "upscale"), stubs("g", 3, "grid")...)
	store := &fakeStore{days: map[string][]job.RecordStub{"2024-05-05": all}}
	state := newState(t)

	e := New(store, state, Config{
		Days:      []time.Time{day("2024-05-05")},
		Predicate: job.TypeIn("upscale"),
	})
	ch := bridge.New[job.Unit]()
	require.NoError(t, e.Run(context.Background(), ch))
	units := drain(t, ch)

	require.Len(t, units, 2)
	assert.Equal(t, 2, state.Snapshot().TotalUnitsDiscovered)
}

func TestEnumerator_SplitGrids(t *testing.T) {
	store := &fakeStore{
		days:   map[string][]job.RecordStub{"2024-05-05": stubs("r", 2, "grid")},
		images: map[string]int{"r-0": 4, "r-1": 1},
	}
	state := newState(t)
	e := New(store, state, Config{
		Days:  []time.Time{day("2024-05-05")},
		Split: job.SplitGrids,
	})

	ch := bridge.New[job.Unit]()
	require.NoError(t, e.Run(context.Background(), ch))
	units := drain(t, ch)

	require.Len(t, units, 5)
	for i := 0; i < 4; i++ {
		require.NotNil(t, units[i].PartIndex)
		assert.Equal(t, i, *units[i].PartIndex)
	}
	assert.Nil(t, units[4].PartIndex)

	snap := state.Snapshot()
	assert.Equal(t, 2, snap.ProcessedUnitsDiscovered)
	assert.Equal(t, 5, snap.TotalExportUnits)
}

func TestEnumerator_CancelStopsNewDays(t *testing.T) {
	state := newState(t)
	store := &fakeStore{
		days: map[string][]job.RecordStub{
			"2024-01-03": stubs("c", 1, "upscale"),
			"2024-01-02": stubs("b", 1, "upscale"),
			"2024-01-01": stubs("a", 1, "upscale"),
		},
	}
	store.onDay = func(time.Time) { state.Cancel() }

	e := New(store, state, Config{From: day("2024-01-01"), To: day("2024-01-03"), BatchSize: 1})
	ch := bridge.New[job.Unit]()
	require.NoError(t, e.Run(context.Background(), ch))
	units := drain(t, ch)

	assert.Equal(t, []string{"2024-01-03"}, store.dayCalls)
	assert.Empty(t, store.detailCalls, "no detail batch may start after cancel")
	assert.Empty(t, units)
	assert.Equal(t, 1, state.Snapshot().ProcessedDays)
}

func TestEnumerator_CancelledBeforeStart(t *testing.T) {
	state := newState(t)
	state.Cancel()
	store := &fakeStore{days: map[string][]job.RecordStub{"2024-01-01": stubs("a", 3, "upscale")}}

	e := New(store, state, Config{Days: []time.Time{day("2024-01-01")}})
	ch := bridge.New[job.Unit]()
	require.NoError(t, e.Run(context.Background(), ch))

	assert.Empty(t, store.dayCalls)
	assert.Empty(t, drain(t, ch))
}

func TestEnumerator_FetchErrorsAbort(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		store *fakeStore
	}{
		{
			name:  "day",
			store: &fakeStore{dayErr: boom},
		},
		{
			name: "details",
			store: &fakeStore{
				days:      map[string][]job.RecordStub{"2024-01-01": stubs("a", 1, "upscale")},
				detailErr: boom,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.store, newState(t), Config{Days: []time.Time{day("2024-01-01")}})
			ch := bridge.New[job.Unit]()

			err := e.Run(context.Background(), ch)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEnumeration)
			assert.ErrorIs(t, err, boom)

			// the channel is closed even on failure
			assert.Empty(t, drain(t, ch))
			assert.Len(t, tt.store.dayCalls, 1, "failures are not retried")
		})
	}
}

func TestEnumerator_ListsDaysWhenUnconfigured(t *testing.T) {
	base := &fakeStore{
		days: map[string][]job.RecordStub{
			"2024-02-01": stubs("a", 1, "upscale"),
			"2024-02-03": stubs("b", 1, "upscale"),
		},
		listed: []time.Time{day("2024-02-01"), day("2024-02-03"), day("2024-02-03")},
	}

	e := New(listingStore{base}, newState(t), Config{OldestFirst: true})
	ch := bridge.New[job.Unit]()
	require.NoError(t, e.Run(context.Background(), ch))
	drain(t, ch)

	assert.Equal(t, []string{"2024-02-01", "2024-02-03"}, base.dayCalls)
}

func TestEnumerator_NoDaysWithoutLister(t *testing.T) {
	e := New(&fakeStore{}, newState(t), Config{})
	ch := bridge.New[job.Unit]()
	err := e.Run(context.Background(), ch)
	assert.ErrorIs(t, err, ErrEnumeration)
}

func TestDayRange(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		want    int
		wantErr bool
	}{
		{name: "single", from: "2024-01-01", to: "2024-01-01", want: 1},
		{name: "month_boundary", from: "2024-01-30", to: "2024-02-02", want: 4},
		{name: "leap_day", from: "2024-02-28", to: "2024-03-01", want: 3},
		{name: "reversed", from: "2024-01-02", to: "2024-01-01", wantErr: true},
		{name: "open_from", to: "2024-01-05", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var from, to time.Time
			if tt.from != "" {
				from = day(tt.from)
			}
			if tt.to != "" {
				to = day(tt.to)
			}
			days, err := DayRange(from, to)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, days, tt.want)
		})
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2023-06-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDay("15/06/2023")
	assert.Error(t, err)
}
