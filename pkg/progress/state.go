package progress

import (
	"errors"
	"sync"
	"time"
)

// Status is the lifecycle status of an export run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// Outcome classifies a processed export unit.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

// ErrAlreadyRunning is returned by Reset while a run is active.
var ErrAlreadyRunning = errors.New("progress: export already running")

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	RunID  string
	Status Status

	Running   bool
	Cancelled bool

	TotalDays     int
	ProcessedDays int

	TotalUnitsDiscovered     int
	ProcessedUnitsDiscovered int

	TotalExportUnits     int
	ProcessedExportUnits int

	Failed  int
	Skipped int

	StartedAt  time.Time
	FinishedAt time.Time
}

// Fraction returns processed/total export units in [0,1], 0 when nothing
// has been discovered yet.
func (s Snapshot) Fraction() float64 {
	if s.TotalExportUnits == 0 {
		return 0
	}
	f := float64(s.ProcessedExportUnits) / float64(s.TotalExportUnits)
	if f > 1 {
		return 1
	}
	return f
}

// Elapsed returns the run duration so far, or the final duration once
// finished.
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if !s.FinishedAt.IsZero() {
		return s.FinishedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// State is the mutable progress record shared by all components of a run.
type State struct {
	mu   sync.Mutex
	snap Snapshot

	cancelCh chan struct{}
	subs     map[int]chan Snapshot
	nextSub  int

	now func() time.Time
}

// NewState returns an idle state.
func NewState() *State {
	return &State{
		snap:     Snapshot{Status: StatusIdle},
		cancelCh: make(chan struct{}),
		subs:     make(map[int]chan Snapshot),
		now:      time.Now,
	}
}

// Reset zeroes every counter, clears the cancellation flag and marks a new
// run as started.
func (s *State) Reset(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.Running {
		return ErrAlreadyRunning
	}

	s.snap = Snapshot{
		RunID:     runID,
		Status:    StatusRunning,
		Running:   true,
		StartedAt: s.now(),
	}
	s.cancelCh = make(chan struct{})
	s.publishLocked()
	return nil
}

// Finish ends the run. The status is canceled if the flag was set, failed if
// err is non-nil and completed otherwise.
func (s *State) Finish(err error) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.snap.Cancelled:
		s.snap.Status = StatusCanceled
	case err != nil:
		s.snap.Status = StatusFailed
	default:
		s.snap.Status = StatusCompleted
	}
	s.snap.Running = false
	s.snap.FinishedAt = s.now()
	runsFinished.WithLabelValues(string(s.snap.Status)).Inc()
	s.publishLocked()
	return s.snap.Status
}

// Cancel sets the cancellation flag. Only the first call has an effect.
func (s *State) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.Cancelled {
		return
	}
	s.snap.Cancelled = true
	close(s.cancelCh)
	if s.snap.Running {
		cancellations.Inc()
	}
	s.publishLocked()
}

// Cancelled reports whether cancellation was requested for the current run.
func (s *State) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Cancelled
}

// CancelCh is closed when Cancel is called for the current run.
func (s *State) CancelCh() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCh
}

// Running reports whether a run is active.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Running
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// SetTotalDays records the number of days the enumerator will walk.
func (s *State) SetTotalDays(n int) {
	s.update(func(sn *Snapshot) { sn.TotalDays = n })
}

// DayDone records one processed day and the units it contributed.
func (s *State) DayDone(discovered int) {
	s.update(func(sn *Snapshot) {
		sn.ProcessedDays++
		sn.TotalUnitsDiscovered += discovered
	})
}

// Discovered records units queued without a day listing.
func (s *State) Discovered(n int) {
	s.update(func(sn *Snapshot) { sn.TotalUnitsDiscovered += n })
}

// BatchResolved records a detail batch: the number of records resolved and
// the number of export units they expanded into.
func (s *State) BatchResolved(records, units int) {
	s.update(func(sn *Snapshot) {
		sn.ProcessedUnitsDiscovered += records
		sn.TotalExportUnits += units
	})
}

// UnitDone records one export unit leaving a worker.
func (s *State) UnitDone(o Outcome) {
	s.update(func(sn *Snapshot) {
		sn.ProcessedExportUnits++
		switch o {
		case OutcomeFailed:
			sn.Failed++
		case OutcomeSkipped:
			sn.Skipped++
		}
	})
}

// Subscribe registers an observer. The returned channel always holds the
// latest snapshot; an older unread snapshot is replaced. Call the returned
// function to unsubscribe; it closes the channel.
func (s *State) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- s.snap
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *State) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	s.publishLocked()
}

// publishLocked must be called with s.mu held.
func (s *State) publishLocked() {
	snap := s.snap
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	snap.export()
}
