package pipeline

import (
	"context"
	"time"

	"github.com/milkywaybrain/bondetl/internal/apperr"
	"github.com/rs/zerolog/log"
)

// Notifier receives progress reports. Implementations must not block the run for long.
type Notifier interface {
	DayDone(ctx context.Context, report DayReport) error
	RunDone(ctx context.Context, report RunReport) error
}

// RunReport summarizes a whole invocation.
type RunReport struct {
	JobID   string         `json:"job_id"`
	Start   string         `json:"start_date"`
	End     string         `json:"end_date"`
	Days    int            `json:"days"`
	Records int            `json:"records"`
	Counts  map[string]int `json:"counts"`
	Status  Status         `json:"status"`
	Elapsed time.Duration  `json:"elapsed_ns"`
	Error   string         `json:"error,omitempty"`
}

// Range runs Day over every business date of an inclusive range, in order.
// The first failed day aborts the range.
type Range struct {
	Day      *Day
	Notifier Notifier
}

// Run processes [start, end]. The returned state is never nil.
func (r *Range) Run(ctx context.Context, start, end time.Time) (*RunState, error) {
	state := NewRunState(start, end)
	defer func() {
		if err := r.Day.Loader.Close(); err != nil {
			log.Error().Stack().Err(err).Msg("closing loader")
		}
	}()
	if end.Before(start) {
		err := apperr.Newf(apperr.InvalidArgs, "date range", "start date %s is after end date %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
		state.Fail(err)
		return state, err
	}

	if err := r.Day.Loader.Initialize(ctx); err != nil {
		err = apperr.New(apperr.Load, "initialize loader", err)
		state.Fail(err)
		r.notifyRun(ctx, state, 0)
		return state, err
	}

	total := Days(start, end)
	days := 0
	log.Info().Str("job_id", state.JobID).Str("start", start.Format("2006-01-02")).Str("end", end.Format("2006-01-02")).Int("days", total).Msg("run started")
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			err = apperr.New(apperr.Unexpected, "run interrupted", err)
			state.Fail(err)
			break
		}
		days++
		log.Info().Str("business_date", date.Format("2006-01-02")).Msgf("day %d/%d", days, total)

		report, err := r.Day.Run(ctx, date, state)
		r.notifyDay(ctx, report)
		if err != nil {
			log.Error().Stack().Err(err).Str("business_date", report.Date).Msg("day failed, aborting run")
			break
		}
		log.Info().
			Str("business_date", report.Date).
			Int("records", report.Records).
			Int("batches", report.Batches).
			Dur("elapsed", report.Elapsed).
			Msg("day completed")
	}

	r.notifyRun(ctx, state, days)
	return state, state.Err
}

func (r *Range) notifyDay(ctx context.Context, report DayReport) {
	if r.Notifier == nil {
		return
	}
	if err := r.Notifier.DayDone(ctx, report); err != nil {
		log.Warn().Err(err).Str("business_date", report.Date).Msg("day report not published")
	}
}

func (r *Range) notifyRun(ctx context.Context, state *RunState, days int) {
	report := Report(state, days)
	log.Info().
		Str("job_id", report.JobID).
		Str("status", report.Status.String()).
		Int("days", report.Days).
		Int("records", report.Records).
		Dur("elapsed", report.Elapsed).
		Msg("run finished")
	if r.Notifier == nil {
		return
	}
	if err := r.Notifier.RunDone(ctx, report); err != nil {
		log.Warn().Err(err).Msg("run report not published")
	}
}

// Report builds the run summary from state.
func Report(state *RunState, days int) RunReport {
	report := RunReport{
		JobID:   state.JobID,
		Start:   state.Start.Format("2006-01-02"),
		End:     state.End.Format("2006-01-02"),
		Days:    days,
		Records: state.Total(),
		Counts:  state.Counts,
		Status:  state.Status,
		Elapsed: time.Since(state.StartedAt),
	}
	if state.Err != nil {
		report.Error = state.Err.Error()
	}
	return report
}

// Days returns the number of business dates in [start, end], zero when end is before start.
func Days(start, end time.Time) int {
	n := 0
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		n++
	}
	return n
}
