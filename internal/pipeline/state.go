package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/milkywaybrain/bondetl/internal/apperr"
)

// Status is the phase of a run.
type Status int

// Run phases. Completed ends a day, Failed ends the whole run.
const (
	Initialized Status = iota
	Extracting
	Transforming
	Loading
	Completed
	Failed
)

var statusNames = [...]string{"INITIALIZED", "EXTRACTING", "TRANSFORMING", "LOADING", "COMPLETED", "FAILED"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText writes the status name in reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// next lists the legal forward moves. Failed is reachable from every non terminal status.
var next = map[Status]Status{
	Initialized:  Extracting,
	Extracting:   Transforming,
	Transforming: Loading,
	Loading:      Completed,
	Completed:    Extracting,
}

// RunState tracks one invocation over a date range.
// Only the orchestrating goroutine mutates it.
type RunState struct {
	JobID     string
	Start     time.Time
	End       time.Time
	Current   time.Time
	Status    Status
	StartedAt time.Time

	// Counts holds the records loaded per business date, keyed YYYYMMDD.
	Counts map[string]int
	Err    error
}

// NewRunState creates the state of a run over [start, end].
func NewRunState(start, end time.Time) *RunState {
	return &RunState{
		JobID:     uuid.New().String(),
		Start:     start,
		End:       end,
		Status:    Initialized,
		StartedAt: time.Now(),
		Counts:    make(map[string]int),
	}
}

// Advance moves to to, which must be the next phase of the current one.
func (s *RunState) Advance(to Status) error {
	if s.Status == Failed {
		return apperr.Newf(apperr.Unexpected, "advance run state", "run already failed")
	}
	if want, ok := next[s.Status]; !ok || want != to {
		return apperr.Newf(apperr.Unexpected, "advance run state", "illegal move %s -> %s", s.Status, to)
	}
	s.Status = to
	return nil
}

// BeginDay starts the extraction phase of date.
func (s *RunState) BeginDay(date time.Time) error {
	if err := s.Advance(Extracting); err != nil {
		return err
	}
	s.Current = date
	return nil
}

// CompleteDay records the loaded count of the current day and marks it completed.
func (s *RunState) CompleteDay(records int) error {
	if err := s.Advance(Completed); err != nil {
		return err
	}
	s.Counts[s.Current.Format("20060102")] = records
	return nil
}

// Fail marks the run failed. The first error is kept.
func (s *RunState) Fail(err error) {
	s.Status = Failed
	if s.Err == nil {
		s.Err = err
	}
}

// Total returns the records loaded so far.
func (s *RunState) Total() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}
