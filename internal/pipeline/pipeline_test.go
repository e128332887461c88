package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/milkywaybrain/bondetl/internal/apperr"
	"github.com/milkywaybrain/bondetl/internal/model"
	"github.com/milkywaybrain/bondetl/internal/source"
	"github.com/milkywaybrain/bondetl/internal/transform"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jan7 = time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)
	jan8 = time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	jan9 = time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC)
)

func stamp(date time.Time, ms int) string {
	return date.Add(9*time.Hour + time.Duration(ms)*time.Millisecond).Format("2006-01-02 15:04:05.000")
}

func depthRows(date time.Time, msOffsets ...int) []source.DepthRow {
	var rows []source.DepthRow
	for i, ms := range msOffsets {
		rows = append(rows, source.DepthRow{
			BusinessDate:   date.Format("20060102"),
			SecurityID:     "240001",
			SettlementType: "1",
			RecvTime:       stamp(date, ms),
			MQOffset:       fmt.Sprint(i),
			PriceLevel:     "1",
			EntryType:      "0",
			EntryPx:        "100.1",
			Yield:          "1.85",
			YieldType:      "0",
			EntrySize:      "1000",
		})
	}
	return rows
}

func dealRows(date time.Time, msOffsets ...int) []source.DealRow {
	var rows []source.DealRow
	for _, ms := range msOffsets {
		rows = append(rows, source.DealRow{
			BusinessDate: date.Format("20060102"),
			BondKey:      "240001",
			NetPrice:     "100.25",
			SetDays:      "T+1",
			DealSize:     "5000",
			Side:         "Y",
			DealTime:     stamp(date, ms),
			RecvTime:     stamp(date, ms),
		})
	}
	return rows
}

func tickRows(date time.Time, msOffsets ...int) []source.TickRow {
	var rows []source.TickRow
	for _, ms := range msOffsets {
		rows = append(rows, source.TickRow{
			"code":          "T2503",
			"business_date": date.Format("20060102"),
			"price":         101.3,
			"action_date":   int64(date.Year()*10000 + int(date.Month())*100 + date.Day()),
			"action_time":   int64(90000000 + ms),
			"receive_time":  stamp(date, ms),
		})
	}
	return rows
}

type fakeQuotes struct {
	rows  map[string][]source.DepthRow
	err   error
	calls []string
	mu    sync.Mutex
}

func (f *fakeQuotes) Extract(_ context.Context, date time.Time) ([]source.DepthRow, error) {
	f.mu.Lock()
	f.calls = append(f.calls, date.Format("20060102"))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[date.Format("20060102")], nil
}

type fakeTrades struct {
	rows map[string][]source.DealRow
	err  error
}

func (f *fakeTrades) Extract(_ context.Context, date time.Time) ([]source.DealRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[date.Format("20060102")], nil
}

type fakeFutures struct {
	rows  map[string][]source.TickRow
	panic bool
}

func (f *fakeFutures) Extract(_ context.Context, date time.Time) ([]source.TickRow, error) {
	if f.panic {
		panic("corrupt tick row")
	}
	return f.rows[date.Format("20060102")], nil
}

type recordingLoader struct {
	initialized bool
	closed      bool
	created     int
	cleaned     int
	batches     [][]model.Record
	failAt      int
}

func (l *recordingLoader) Initialize(context.Context) error { l.initialized = true; return nil }

func (l *recordingLoader) CreateTemporaryTables(context.Context) error { l.created++; return nil }

func (l *recordingLoader) Load(_ context.Context, batch []model.Record) error {
	if l.failAt > 0 && len(l.batches)+1 == l.failAt {
		return errors.New("insert refused")
	}
	l.batches = append(l.batches, batch)
	return nil
}

func (l *recordingLoader) Cleanup(context.Context) error { l.cleaned++; return nil }

func (l *recordingLoader) Close() error { l.closed = true; return nil }

func (l *recordingLoader) records() []model.Record {
	var out []model.Record
	for _, b := range l.batches {
		out = append(out, b...)
	}
	return out
}

func newDay(q *fakeQuotes, tr *fakeTrades, fu *fakeFutures, l *recordingLoader) *Day {
	return &Day{
		Quotes:      q,
		Trades:      tr,
		Futures:     fu,
		Loader:      l,
		Normalizer:  transform.New(time.UTC),
		BatchSize:   10000,
		Concurrency: 3,
	}
}

func TestDayMergesSourcesByReceiveTime(t *testing.T) {
	key := jan7.Format("20060102")
	q := &fakeQuotes{rows: map[string][]source.DepthRow{key: depthRows(jan7, 30, 10, 50)}}
	tr := &fakeTrades{rows: map[string][]source.DealRow{key: dealRows(jan7, 20, 40)}}
	fu := &fakeFutures{rows: map[string][]source.TickRow{key: tickRows(jan7, 5, 45, 60, 10)}}
	l := &recordingLoader{}

	state := NewRunState(jan7, jan7)
	report, err := newDay(q, tr, fu, l).Run(context.Background(), jan7, state)
	require.NoError(t, err)

	recs := l.records()
	require.Len(t, recs, 9)
	for i := 1; i < len(recs); i++ {
		assert.False(t, recs[i].ReceivedAt().Before(recs[i-1].ReceivedAt()), "record %d out of order", i)
	}
	// quote at 10ms comes before the future at 10ms
	assert.Equal(t, model.KindQuote, recs[1].Kind())
	assert.Equal(t, model.KindFuture, recs[2].Kind())

	assert.Equal(t, Completed, state.Status)
	assert.Equal(t, 9, state.Counts["20250107"])
	assert.Equal(t, 9, report.Records)
	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, SourceCounts{Input: 3, Records: 3}, report.Quotes)
	assert.Equal(t, SourceCounts{Input: 2, Records: 2}, report.Trades)
	assert.Equal(t, SourceCounts{Input: 4, Records: 4}, report.Futures)
	assert.Equal(t, 1, l.created)
	assert.Equal(t, 1, l.cleaned)
}

func TestDayLoadsInBatches(t *testing.T) {
	key := jan7.Format("20060102")
	offsets := rand.New(rand.NewSource(7)).Perm(25001)
	depths := depthRows(jan7, offsets[:8000]...)
	deals := dealRows(jan7, offsets[8000:16000]...)
	ticks := tickRows(jan7, offsets[16000:]...)

	q := &fakeQuotes{rows: map[string][]source.DepthRow{key: depths}}
	tr := &fakeTrades{rows: map[string][]source.DealRow{key: deals}}
	fu := &fakeFutures{rows: map[string][]source.TickRow{key: ticks}}
	l := &recordingLoader{}

	report, err := newDay(q, tr, fu, l).Run(context.Background(), jan7, NewRunState(jan7, jan7))
	require.NoError(t, err)
	require.Len(t, l.batches, 3)
	assert.Len(t, l.batches[0], 10000)
	assert.Len(t, l.batches[1], 10000)
	assert.Len(t, l.batches[2], 5001)
	assert.Equal(t, 3, report.Batches)

	n := transform.New(time.UTC)
	want := Merge(n.Quotes(depths).Records, n.Trades(deals).Records, n.Futures(ticks).Records)
	require.Len(t, want, 25001)
	for i, batch := range l.batches {
		expected := want[i*10000 : i*10000+len(batch)]
		for j, rec := range batch {
			require.Equal(t, expected[j].Kind(), rec.Kind(), "batch %d record %d", i, j)
			require.True(t, expected[j].ReceivedAt().Equal(rec.ReceivedAt()), "batch %d record %d", i, j)
		}
	}
	last := l.batches[0][9999].ReceivedAt()
	assert.True(t, last.Before(l.batches[1][0].ReceivedAt()))
}

func TestDayDropsOnlyMalformedTrades(t *testing.T) {
	key := jan7.Format("20060102")
	offsets := make([]int, 500)
	for i := range offsets {
		offsets[i] = i
	}
	rows := dealRows(jan7, offsets...)
	rows[250].NetPrice = "n/a"
	tr := &fakeTrades{rows: map[string][]source.DealRow{key: rows}}
	l := &recordingLoader{}

	report, err := newDay(&fakeQuotes{}, tr, &fakeFutures{}, l).Run(context.Background(), jan7, NewRunState(jan7, jan7))
	require.NoError(t, err)
	assert.Len(t, l.records(), 499)
	assert.Equal(t, SourceCounts{Input: 500, Records: 499, Dropped: 1}, report.Trades)
}

func TestDayWithoutDataCompletes(t *testing.T) {
	l := &recordingLoader{}
	state := NewRunState(jan7, jan7)
	report, err := newDay(&fakeQuotes{}, &fakeTrades{}, &fakeFutures{}, l).Run(context.Background(), jan7, state)
	require.NoError(t, err)
	assert.Equal(t, Completed, report.Status)
	assert.Equal(t, 0, report.Records)
	assert.Empty(t, l.batches)
	assert.Equal(t, 1, l.cleaned)
}

func TestDaySourceFailure(t *testing.T) {
	l := &recordingLoader{}
	state := NewRunState(jan7, jan7)
	tr := &fakeTrades{err: errors.New("bucket unreachable")}
	report, err := newDay(&fakeQuotes{}, tr, &fakeFutures{}, l).Run(context.Background(), jan7, state)
	require.Error(t, err)
	assert.Equal(t, apperr.SourceUnavailable, apperr.KindOf(err))
	assert.Equal(t, Failed, report.Status)
	assert.Equal(t, Failed, state.Status)
	assert.Contains(t, report.Error, "bucket unreachable")
	assert.Zero(t, l.created)
}

func TestDayTaskPanicIsTransformationFailure(t *testing.T) {
	l := &recordingLoader{}
	_, err := newDay(&fakeQuotes{}, &fakeTrades{}, &fakeFutures{panic: true}, l).Run(context.Background(), jan7, NewRunState(jan7, jan7))
	require.Error(t, err)
	assert.Equal(t, apperr.Transformation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "corrupt tick row")
}

func TestDayLoadFailureSkipsCleanup(t *testing.T) {
	key := jan7.Format("20060102")
	tr := &fakeTrades{rows: map[string][]source.DealRow{key: dealRows(jan7, 1, 2, 3)}}
	l := &recordingLoader{failAt: 1}
	_, err := newDay(&fakeQuotes{}, tr, &fakeFutures{}, l).Run(context.Background(), jan7, NewRunState(jan7, jan7))
	require.Error(t, err)
	assert.Equal(t, apperr.Load, apperr.KindOf(err))
	assert.Zero(t, l.cleaned)
}

func TestRangeRunsEveryDayInOrder(t *testing.T) {
	q := &fakeQuotes{rows: map[string][]source.DepthRow{
		"20250107": depthRows(jan7, 1),
		"20250108": depthRows(jan8, 1, 2),
		"20250109": depthRows(jan9, 1, 2, 3),
	}}
	l := &recordingLoader{}
	n := &recordingNotifier{}
	r := &Range{Day: newDay(q, &fakeTrades{}, &fakeFutures{}, l), Notifier: n}

	state, err := r.Run(context.Background(), jan7, jan9)
	require.NoError(t, err)
	assert.Equal(t, []string{"20250107", "20250108", "20250109"}, q.calls)
	assert.Equal(t, 6, state.Total())
	assert.Equal(t, Completed, state.Status)
	assert.True(t, l.initialized)
	assert.True(t, l.closed)

	require.Len(t, n.days, 3)
	require.Len(t, n.runs, 1)
	assert.Equal(t, 3, n.runs[0].Days)
	assert.Equal(t, 6, n.runs[0].Records)
	assert.Equal(t, Completed, n.runs[0].Status)
	assert.Equal(t, state.JobID, n.runs[0].JobID)
}

func TestRangeAbortsOnFirstFailure(t *testing.T) {
	q := &fakeQuotes{err: errors.New("timeout")}
	l := &recordingLoader{}
	n := &recordingNotifier{}
	r := &Range{Day: newDay(q, &fakeTrades{}, &fakeFutures{}, l), Notifier: n}

	state, err := r.Run(context.Background(), jan7, jan9)
	require.Error(t, err)
	assert.Equal(t, apperr.SourceUnavailable, apperr.KindOf(err))
	assert.Equal(t, []string{"20250107"}, q.calls)
	assert.Equal(t, Failed, state.Status)
	assert.Empty(t, state.Counts)
	require.Len(t, n.runs, 1)
	assert.Equal(t, Failed, n.runs[0].Status)
	assert.Equal(t, 1, n.runs[0].Days)
}

func TestRangeRejectsReversedDates(t *testing.T) {
	l := &recordingLoader{}
	r := &Range{Day: newDay(&fakeQuotes{}, &fakeTrades{}, &fakeFutures{}, l)}
	state, err := r.Run(context.Background(), jan9, jan7)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidArgs, apperr.KindOf(err))
	assert.Equal(t, Failed, state.Status)
	assert.False(t, l.initialized)
	assert.True(t, l.closed)
}

func TestRangeSingleDay(t *testing.T) {
	q := &fakeQuotes{}
	r := &Range{Day: newDay(q, &fakeTrades{}, &fakeFutures{}, &recordingLoader{})}
	_, err := r.Run(context.Background(), jan7, jan7)
	require.NoError(t, err)
	assert.Equal(t, []string{"20250107"}, q.calls)
}

type recordingNotifier struct {
	days []DayReport
	runs []RunReport
}

func (n *recordingNotifier) DayDone(_ context.Context, r DayReport) error {
	n.days = append(n.days, r)
	return nil
}

func (n *recordingNotifier) RunDone(_ context.Context, r RunReport) error {
	n.runs = append(n.runs, r)
	return errors.New("nats down")
}

func TestRunStateTransitions(t *testing.T) {
	s := NewRunState(jan7, jan8)
	assert.NotEmpty(t, s.JobID)
	assert.Equal(t, Initialized, s.Status)

	require.Error(t, s.Advance(Loading))
	require.NoError(t, s.BeginDay(jan7))
	assert.Equal(t, jan7, s.Current)
	require.NoError(t, s.Advance(Transforming))
	require.NoError(t, s.Advance(Loading))
	require.NoError(t, s.CompleteDay(12))
	require.NoError(t, s.BeginDay(jan8))

	first := errors.New("first")
	s.Fail(first)
	s.Fail(errors.New("second"))
	assert.Equal(t, first, s.Err)
	assert.Error(t, s.Advance(Transforming))
	assert.Equal(t, 12, s.Total())
}

func TestStatusText(t *testing.T) {
	b, err := Loading.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "LOADING", string(b))
	assert.Equal(t, "status(42)", Status(42).String())
}

func TestBatchesAndDays(t *testing.T) {
	recs := make([]model.Record, 7)
	b := Batches(recs, 3)
	require.Len(t, b, 3)
	assert.Len(t, b[2], 1)
	assert.Empty(t, Batches(nil, 3))

	assert.Equal(t, 3, Days(jan7, jan9))
	assert.Equal(t, 1, Days(jan7, jan7))
	assert.Equal(t, 0, Days(jan9, jan7))
}
