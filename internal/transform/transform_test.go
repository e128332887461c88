package transform

import (
	"fmt"
	"testing"
	"time"

	"github.com/milkywaybrain/bondetl/internal/model"
	"github.com/milkywaybrain/bondetl/internal/source"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer() *Normalizer { return New(time.UTC) }

func depthRow(offset, level, side, px, size string) source.DepthRow {
	return source.DepthRow{
		BusinessDate:   "20250107",
		SecurityID:     "240001",
		SettlementType: "1",
		TransactTime:   "2025-01-07 09:30:00.000",
		RecvTime:       "2025-01-07 09:30:00.125",
		MQOffset:       offset,
		PriceLevel:     level,
		EntryType:      side,
		EntryPx:        px,
		Yield:          "1.85",
		YieldType:      "0",
		EntrySize:      size,
	}
}

func fullLadder(offset string) []source.DepthRow {
	var rows []source.DepthRow
	for level := 6; level >= 1; level-- {
		for side := 1; side >= 0; side-- {
			px := fmt.Sprintf("%d.%d", 100+side, level)
			size := fmt.Sprintf("%d", level*1000+side)
			rows = append(rows, depthRow(offset, fmt.Sprint(level), fmt.Sprint(side), px, size))
		}
	}
	return rows
}

func TestGroupDepthRows(t *testing.T) {
	rows := []source.DepthRow{
		depthRow("10", "1", "0", "100", "1"),
		depthRow("11", "1", "0", "100", "1"),
		depthRow("10", "1", "1", "101", "1"),
	}
	other := depthRow("10", "2", "0", "99", "1")
	other.SecurityID = "240002"
	rows = append(rows, other)

	groups := GroupDepthRows(rows)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 2)
	assert.Equal(t, "11", groups[1][0].MQOffset)
	assert.Equal(t, "240002", groups[2][0].SecurityID)
}

func TestQuoteLadderPlacement(t *testing.T) {
	q, err := newTestNormalizer().Quote(fullLadder("42"))
	require.NoError(t, err)
	require.NotNil(t, q)

	assert.Equal(t, "240001.IB", q.ExchProductID)
	assert.Equal(t, time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC), q.BusinessDate)
	assert.Equal(t, time.Date(2025, 1, 7, 9, 30, 0, 125e6, time.UTC), q.ReceiveTime)
	assert.Equal(t, time.Date(2025, 1, 7, 9, 30, 0, 0, time.UTC), q.EventTime)

	for slot := 0; slot < model.QuoteDepth; slot++ {
		level := slot + 1
		bid, offer := q.Bids[slot], q.Offers[slot]
		require.NotNil(t, bid.Price, "bid slot %d", slot)
		assert.InDelta(t, 100+float64(level)/10, *bid.Price, 1e-9)
		assert.InDelta(t, 101+float64(level)/10, *offer.Price, 1e-9)
		assert.Equal(t, int64(level*1000), *bid.Volume)
		assert.Equal(t, int64(level*1000+1), *offer.Volume)
		assert.Equal(t, model.YieldMaturity, bid.YieldType)
		assert.Equal(t, 1.85, *bid.Yield)

		if slot == 0 {
			assert.Equal(t, int64(0), *bid.TradableVolume)
			assert.Equal(t, int64(0), *offer.TradableVolume)
		} else {
			assert.Equal(t, *bid.Volume, *bid.TradableVolume)
			assert.Equal(t, *offer.Volume, *offer.TradableVolume)
		}
	}
}

func TestQuoteIgnoresOutOfRangeRows(t *testing.T) {
	rows := []source.DepthRow{
		depthRow("1", "1", "0", "100.5", "500"),
		depthRow("1", "7", "0", "99.0", "500"),
		depthRow("1", "0", "1", "101.0", "500"),
		depthRow("1", "2", "3", "101.0", "500"),
	}
	q, err := newTestNormalizer().Quote(rows)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 100.5, *q.Bids[0].Price)
	for slot := 1; slot < model.QuoteDepth; slot++ {
		assert.Nil(t, q.Bids[slot].Price)
	}
	for slot := 0; slot < model.QuoteDepth; slot++ {
		assert.Nil(t, q.Offers[slot].Price)
	}
}

func TestQuoteSettleSpeed(t *testing.T) {
	tests := []struct {
		raw  string
		want model.SettleSpeed
	}{
		{"1", model.SameDay},
		{"2", model.NextDay},
		{"0", model.NextDay},
		{"4", model.NextDay},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			row := depthRow("1", "1", "0", "100", "10")
			row.SettlementType = tt.raw
			q, err := newTestNormalizer().Quote([]source.DepthRow{row})
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.SettleSpeed)
		})
	}
}

func TestQuoteWithoutReceiveTimeIsSkipped(t *testing.T) {
	row := depthRow("1", "1", "0", "100", "10")
	row.RecvTime = ""
	q, err := newTestNormalizer().Quote([]source.DepthRow{row})
	assert.NoError(t, err)
	assert.Nil(t, q)

	res := newTestNormalizer().Quotes(append([]source.DepthRow{row}, fullLadder("2")...))
	assert.Equal(t, 2, res.Input)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Dropped)
	assert.Len(t, res.Records, 1)
}

func TestQuoteMalformedPriceDropsGroup(t *testing.T) {
	rows := fullLadder("1")
	rows[3].EntryPx = "abc"
	_, err := newTestNormalizer().Quote(rows)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "underlying_md_entry_px", perr.Field)

	res := newTestNormalizer().Quotes(append(rows, fullLadder("2")...))
	assert.Equal(t, 1, res.Dropped)
	assert.Len(t, res.Records, 1)
}

func TestQuoteAcceptsAlternateLayouts(t *testing.T) {
	row := depthRow("1", "1", "0", "100", "10")
	row.BusinessDate = "2025-01-07"
	row.RecvTime = "20250107-09:30:01.500"
	row.YieldType = "EXERCISE"
	q, err := newTestNormalizer().Quote([]source.DepthRow{row})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 7, 9, 30, 1, 500e6, time.UTC), q.ReceiveTime)
	assert.Equal(t, model.YieldExercise, q.Bids[0].YieldType)
}

func dealRow(side string) source.DealRow {
	return source.DealRow{
		BusinessDate: "20250107",
		BondKey:      "240001",
		NetPrice:     "100.25",
		SetDays:      "T+0",
		Yield:        "1.92",
		YieldType:    "0",
		DealSize:     "5000",
		Side:         side,
		DealTime:     "2025-01-07 10:15:00.000",
		RecvTime:     "2025-01-07 10:15:00.300",
	}
}

func TestTradeSides(t *testing.T) {
	want := map[string]model.TradeSide{
		"X": model.SideTaken,
		"Y": model.SideGiven,
		"Z": model.SideTrade,
		"D": model.SideDone,
	}
	for code, side := range want {
		tr, err := newTestNormalizer().Trade(dealRow(code))
		require.NoError(t, err, code)
		assert.Equal(t, side, tr.LastSide)
	}

	_, err := newTestNormalizer().Trade(dealRow("W"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownSide))
}

func TestTradeFields(t *testing.T) {
	row := dealRow("X")
	row.SetDays = "T+1"
	row.YieldType = "2"
	tr, err := newTestNormalizer().Trade(row)
	require.NoError(t, err)

	assert.Equal(t, "240001", tr.ExchProductID)
	assert.Equal(t, model.NextDay, tr.SettleSpeed)
	assert.Equal(t, model.YieldExercise, tr.LastYieldType)
	assert.Equal(t, 100.25, *tr.LastPrice)
	assert.Equal(t, 1.92, *tr.LastYield)
	assert.Equal(t, int64(5000), *tr.LastVolume)
	assert.Equal(t, time.Date(2025, 1, 7, 10, 15, 0, 300e6, time.UTC), tr.ReceiveTime)

	tr, err = newTestNormalizer().Trade(dealRow("Y"))
	require.NoError(t, err)
	assert.Equal(t, model.SameDay, tr.SettleSpeed)
	assert.Equal(t, model.YieldMaturity, tr.LastYieldType)
}

func TestTradeReceiveTimeFallsBackToDealTime(t *testing.T) {
	row := dealRow("Z")
	row.RecvTime = ""
	tr, err := newTestNormalizer().Trade(row)
	require.NoError(t, err)
	assert.Equal(t, tr.EventTime, tr.ReceiveTime)
	assert.Equal(t, time.Date(2025, 1, 7, 10, 15, 0, 0, time.UTC), tr.ReceiveTime)
}

func TestTradesDropOnlyMalformedRow(t *testing.T) {
	rows := make([]source.DealRow, 500)
	for i := range rows {
		rows[i] = dealRow("X")
	}
	rows[217].NetPrice = "10O.5"

	res := newTestNormalizer().Trades(rows)
	assert.Equal(t, 500, res.Input)
	assert.Equal(t, 1, res.Dropped)
	assert.Len(t, res.Records, 499)
}

func TestTradeRejectsZeroSize(t *testing.T) {
	row := dealRow("X")
	row.DealSize = "0"
	_, err := newTestNormalizer().Trade(row)
	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "last_trade_volume", verr.Field)
}

func tickRow() source.TickRow {
	return source.TickRow{
		"code":           []byte("T2503"),
		"business_date":  "20250107",
		"pre_close":      101.2,
		"pre_settle":     101.18,
		"pre_interest":   int64(150000),
		"open":           101.25,
		"high":           101.4,
		"low":            101.1,
		"price":          101.3,
		"settle_price":   nil,
		"upper_limit":    103.2,
		"lower_limit":    99.2,
		"total_volume":   int64(35210),
		"total_turnover": []byte("3566543210.5"),
		"open_interest":  int64(152000),
		"bid_prices":     []float64{101.29, 101.28, 101.27, 101.26, 101.25},
		"bid_qty":        []int64{5, 10, 15, 20, 25},
		"ask_prices":     "[101.31,101.32,101.33,101.34,101.35]",
		"ask_qty":        []byte("[6,11,16,21,26]"),
		"action_date":    int64(20250107),
		"action_time":    int64(93050090),
		"receive_time":   "2025-01-07 09:30:50.120",
	}
}

func TestFutureEventTime(t *testing.T) {
	f, err := newTestNormalizer().Future(tickRow())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 7, 9, 30, 50, 90e6, time.UTC), f.EventTime)
	assert.Equal(t, "2025-01-07 09:30:50.090", f.EventTime.Format("2006-01-02 15:04:05.000"))
	assert.Equal(t, time.Date(2025, 1, 7, 9, 30, 50, 120e6, time.UTC), f.ReceiveTime)
}

func TestFutureFields(t *testing.T) {
	f, err := newTestNormalizer().Future(tickRow())
	require.NoError(t, err)

	assert.Equal(t, "T2503.CFFEX", f.ExchProductID)
	assert.Equal(t, int64(150000), *f.PreInterest)
	assert.Equal(t, 101.3, *f.Session.ClosePrice)
	assert.Nil(t, f.Session.SettlePrice)
	assert.Equal(t, 3566543210.5, *f.Session.TotalTurnover)
	assert.Equal(t, int64(152000), *f.Session.OpenInterest)

	for i := 0; i < model.FutureDepth; i++ {
		assert.Equal(t, int64(5*(i+1)), *f.Bids[i].TradableVolume)
		assert.Equal(t, int64(5*(i+1)+1), *f.Offers[i].TradableVolume)
	}
	assert.Equal(t, 101.29, *f.Bids[0].Price)
	assert.Equal(t, 101.35, *f.Offers[4].Price)
}

func TestFutureDepthLeftUnsetWhenMalformed(t *testing.T) {
	tests := map[string]func(source.TickRow){
		"missing array":   func(r source.TickRow) { delete(r, "ask_qty") },
		"wrong type":      func(r source.TickRow) { r["bid_prices"] = int64(5) },
		"length mismatch": func(r source.TickRow) { r["bid_qty"] = []int64{1, 2} },
		"bad json":        func(r source.TickRow) { r["ask_prices"] = "[101.3," },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			row := tickRow()
			mutate(row)
			f, err := newTestNormalizer().Future(row)
			require.NoError(t, err)
			for i := 0; i < model.FutureDepth; i++ {
				assert.Nil(t, f.Bids[i].Price)
				assert.Nil(t, f.Offers[i].Price)
			}
			assert.NotNil(t, f.Session.ClosePrice)
		})
	}
}

func TestFutureMalformedActionTime(t *testing.T) {
	row := tickRow()
	row["action_time"] = int64(1234567890)
	_, err := newTestNormalizer().Future(row)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "action_time", perr.Field)

	row["action_time"] = int64(96150000)
	_, err = newTestNormalizer().Future(row)
	require.Error(t, err)
}

func TestFutureReceiveTimeFallsBackToActionTime(t *testing.T) {
	row := tickRow()
	row["receive_time"] = nil
	f, err := newTestNormalizer().Future(row)
	require.NoError(t, err)
	assert.Equal(t, f.EventTime, f.ReceiveTime)
}

func TestFuturesDropBadRows(t *testing.T) {
	bad := tickRow()
	bad["open"] = "n/a"
	res := newTestNormalizer().Futures([]source.TickRow{tickRow(), bad, tickRow()})
	assert.Equal(t, 3, res.Input)
	assert.Equal(t, 1, res.Dropped)
	assert.Len(t, res.Records, 2)
}

func TestFutureScannedReceiveTimeKeepsWallClock(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	row := tickRow()
	// the driver attaches the host zone to a DATETIME column
	row["receive_time"] = time.Date(2025, 1, 7, 9, 30, 50, 100e6, time.FixedZone("host", -5*3600))

	f, err := New(shanghai).Future(row)
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 1, 7, 9, 30, 50, 100e6, shanghai).Equal(f.ReceiveTime))

	quote, err := New(shanghai).Quote([]source.DepthRow{depthRow("1", "1", "0", "100.1", "1000")})
	require.NoError(t, err)
	// quote received 09:30:00.125 Shanghai time sorts before the future at 09:30:50.100
	assert.True(t, quote.ReceiveTime.Before(f.ReceiveTime))
}

func TestTickIntCoercion(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  int64
		err   error
	}{
		{"int64", int64(150000), 150000, nil},
		{"whole float", float64(150000), 150000, nil},
		{"decimal text", []byte("150000.00"), 150000, nil},
		{"integer text", "150000", 150000, nil},
		{"fractional float", 150000.5, 0, errNotIntegral},
		{"fractional text", []byte("150000.25"), 0, errNotIntegral},
		{"uint64 overflow", uint64(1) << 63, 0, errOutOfRange},
		{"float overflow", 1e19, 0, errOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tickInt(source.TickRow{"pre_interest": tt.value}, "pre_interest")
			if tt.err != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.err))
				return
			}
			require.NoError(t, err)
			require.NotNil(t, v)
			assert.Equal(t, tt.want, *v)
		})
	}
}

func TestFutureAcceptsDecimalInterest(t *testing.T) {
	row := tickRow()
	row["pre_interest"] = []byte("150000.00")
	row["open_interest"] = 152000.0
	f, err := newTestNormalizer().Future(row)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), *f.PreInterest)
	assert.Equal(t, int64(152000), *f.Session.OpenInterest)
}

func TestResultCollectRecoversPanics(t *testing.T) {
	trade, err := newTestNormalizer().Trade(dealRow("Y"))
	require.NoError(t, err)

	var res Result
	res.collect(model.KindTrade, "240001", func() (model.Record, error) {
		var ladder []int
		_ = ladder[3]
		return nil, nil
	})
	res.collect(model.KindTrade, "240001", func() (model.Record, error) { return trade, nil })
	res.collect(model.KindQuote, "240001@7", func() (model.Record, error) { return nil, nil })

	assert.Equal(t, 3, res.Input)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Records, 1)
	assert.Same(t, trade, res.Records[0])
}
