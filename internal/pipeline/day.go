package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/milkywaybrain/bondetl/internal/apperr"
	"github.com/milkywaybrain/bondetl/internal/model"
	"github.com/milkywaybrain/bondetl/internal/source"
	"github.com/milkywaybrain/bondetl/internal/storage"
	"github.com/milkywaybrain/bondetl/internal/transform"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// QuoteSource returns the raw depth rows of a business date.
type QuoteSource interface {
	Extract(ctx context.Context, date time.Time) ([]source.DepthRow, error)
}

// TradeSource returns the raw deal rows of a business date.
type TradeSource interface {
	Extract(ctx context.Context, date time.Time) ([]source.DealRow, error)
}

// FutureSource returns the raw futures ticks of a business date.
type FutureSource interface {
	Extract(ctx context.Context, date time.Time) ([]source.TickRow, error)
}

// Day runs extraction, normalization, merge and load for one business date.
type Day struct {
	Quotes     QuoteSource
	Trades     TradeSource
	Futures    FutureSource
	Loader     storage.Loader
	Normalizer *transform.Normalizer

	// BatchSize is the number of records per Load call.
	BatchSize int

	// Concurrency bounds the extraction tasks running at once.
	Concurrency int

	// ExtractTimeout bounds each extraction task, zero means no limit.
	ExtractTimeout time.Duration
}

// SourceCounts is what one source produced for a day.
type SourceCounts struct {
	Input   int `json:"input"`
	Records int `json:"records"`
	Skipped int `json:"skipped"`
	Dropped int `json:"dropped"`
}

func countsOf(res transform.Result) SourceCounts {
	return SourceCounts{Input: res.Input, Records: len(res.Records), Skipped: res.Skipped, Dropped: res.Dropped}
}

// DayReport summarizes one business date.
type DayReport struct {
	JobID   string        `json:"job_id"`
	Date    string        `json:"business_date"`
	Status  Status        `json:"status"`
	Quotes  SourceCounts  `json:"quotes"`
	Trades  SourceCounts  `json:"trades"`
	Futures SourceCounts  `json:"futures"`
	Records int           `json:"records"`
	Batches int           `json:"batches"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Error   string        `json:"error,omitempty"`
}

// Run processes date and advances state through its phases. Any error is
// classified with an apperr kind and leaves state failed.
func (d *Day) Run(ctx context.Context, date time.Time, state *RunState) (report DayReport, err error) {
	began := time.Now()
	report = DayReport{JobID: state.JobID, Date: date.Format("2006-01-02")}
	defer func() {
		report.Elapsed = time.Since(began)
		report.Status = state.Status
		if err != nil {
			state.Fail(err)
			report.Status = Failed
			report.Error = err.Error()
		}
	}()

	if err = state.BeginDay(date); err != nil {
		return report, err
	}

	var quotes, trades, futures transform.Result
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency())
	g.Go(func() error {
		return d.task(gctx, "quotes", func(ctx context.Context) error {
			rows, err := d.Quotes.Extract(ctx, date)
			if err != nil {
				return err
			}
			quotes = d.Normalizer.Quotes(rows)
			return nil
		})
	})
	g.Go(func() error {
		return d.task(gctx, "trades", func(ctx context.Context) error {
			rows, err := d.Trades.Extract(ctx, date)
			if err != nil {
				return err
			}
			trades = d.Normalizer.Trades(rows)
			return nil
		})
	})
	g.Go(func() error {
		return d.task(gctx, "futures", func(ctx context.Context) error {
			rows, err := d.Futures.Extract(ctx, date)
			if err != nil {
				return err
			}
			futures = d.Normalizer.Futures(rows)
			return nil
		})
	})
	if err = g.Wait(); err != nil {
		return report, err
	}
	report.Quotes, report.Trades, report.Futures = countsOf(quotes), countsOf(trades), countsOf(futures)

	if err = state.Advance(Transforming); err != nil {
		return report, err
	}
	merged := Merge(quotes.Records, trades.Records, futures.Records)
	report.Records = len(merged)
	log.Info().
		Str("business_date", report.Date).
		Int("quotes", len(quotes.Records)).
		Int("trades", len(trades.Records)).
		Int("futures", len(futures.Records)).
		Msg("day merged")
	if len(merged) == 0 {
		log.Warn().Str("business_date", report.Date).Msg("no data")
	}

	if err = state.Advance(Loading); err != nil {
		return report, err
	}
	if report.Batches, err = d.load(ctx, merged); err != nil {
		return report, err
	}

	if err = state.CompleteDay(len(merged)); err != nil {
		return report, err
	}
	return report, nil
}

// task runs one extract and normalize step under the optional timeout.
// Source failures are SourceUnavailable, a panic is a Transformation failure.
func (d *Day) task(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	if d.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ExtractTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.Transformation, "normalize "+name, fmt.Errorf("panic: %v", r))
		}
	}()
	if err = fn(ctx); err != nil {
		return apperr.New(apperr.SourceUnavailable, "extract "+name, err)
	}
	return nil
}

func (d *Day) concurrency() int {
	if d.Concurrency > 0 {
		return d.Concurrency
	}
	return 3
}

func (d *Day) batchSize() int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	return 10000
}

// load stages the merged day in batches and returns the batch count.
func (d *Day) load(ctx context.Context, merged []model.Record) (int, error) {
	if err := d.Loader.CreateTemporaryTables(ctx); err != nil {
		return 0, apperr.New(apperr.Load, "create temporary tables", err)
	}
	batches := Batches(merged, d.batchSize())
	for i, batch := range batches {
		if err := d.Loader.Load(ctx, batch); err != nil {
			return i, apperr.New(apperr.Load, fmt.Sprintf("load batch %d/%d", i+1, len(batches)), err)
		}
		log.Debug().Int("batch", i+1).Int("of", len(batches)).Int("records", len(batch)).Msg("batch loaded")
	}
	if err := d.Loader.Cleanup(ctx); err != nil {
		return len(batches), apperr.New(apperr.Load, "cleanup", errors.WithMessage(err, "temporary tables"))
	}
	return len(batches), nil
}

// Merge concatenates the three sources and sorts them by receive time.
// Records with equal receive times keep quote, trade, future and row order.
func Merge(quotes, trades, futures []model.Record) []model.Record {
	merged := make([]model.Record, 0, len(quotes)+len(trades)+len(futures))
	merged = append(merged, quotes...)
	merged = append(merged, trades...)
	merged = append(merged, futures...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].ReceivedAt().Before(merged[j].ReceivedAt())
	})
	return merged
}

// Batches splits records into consecutive slices of at most size records.
func Batches(records []model.Record, size int) [][]model.Record {
	if size <= 0 {
		size = len(records)
	}
	var out [][]model.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end:end])
	}
	return out
}
