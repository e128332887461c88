package transform

import (
	"fmt"
	"time"

	"github.com/milkywaybrain/bondetl/internal/model"
	"github.com/milkywaybrain/bondetl/internal/source"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Futures contracts are loaded with the exchange suffix.
const cffexSuffix = ".CFFEX"

const actionLayout = "20060102-15:04:05.000"

var (
	errMissing     = errors.New("missing value")
	errNotIntegral = errors.New("not a whole number")
	errOutOfRange  = errors.New("out of int64 range")
)

// ActionTime assembles the exchange event time from the integer action date
// (YYYYMMDD) and action time (HHMMSSmmm, zero padded to nine digits).
func (n *Normalizer) ActionTime(actionDate, actionTime int64) (time.Time, error) {
	d := fmt.Sprintf("%08d", actionDate)
	t := fmt.Sprintf("%09d", actionTime)
	raw := d + "/" + t
	if actionDate < 0 || actionTime < 0 || len(d) != 8 || len(t) != 9 {
		return time.Time{}, &ParseError{Field: "action_time", Value: raw, Err: errors.New("want YYYYMMDD and HHMMSSmmm")}
	}
	s := d + "-" + t[0:2] + ":" + t[2:4] + ":" + t[4:6] + "." + t[6:9]
	ts, err := time.ParseInLocation(actionLayout, s, n.loc)
	if err != nil {
		return time.Time{}, &ParseError{Field: "action_time", Value: raw, Err: err}
	}
	return ts, nil
}

func tickSession(row source.TickRow) (model.Session, error) {
	var (
		s   model.Session
		err error
	)
	floats := []struct {
		field string
		dst   **float64
	}{
		{"pre_close", &s.PreClosePrice},
		{"pre_settle", &s.PreSettlePrice},
		{"open", &s.OpenPrice},
		{"high", &s.HighPrice},
		{"low", &s.LowPrice},
		{"price", &s.ClosePrice},
		{"settle_price", &s.SettlePrice},
		{"upper_limit", &s.UpperLimit},
		{"lower_limit", &s.LowerLimit},
		{"total_turnover", &s.TotalTurnover},
	}
	for _, f := range floats {
		if *f.dst, err = tickFloat(row, f.field); err != nil {
			return s, err
		}
	}
	if s.TotalVolume, err = tickInt(row, "total_volume"); err != nil {
		return s, err
	}
	if s.OpenInterest, err = tickInt(row, "open_interest"); err != nil {
		return s, err
	}
	return s, nil
}

// futureDepth reads the four depth arrays. ok is false unless all four are
// present and each price array matches its quantity array in length.
func futureDepth(row source.TickRow) (bids, offers []model.FutureLevel, ok bool) {
	bidPx, ok1 := tickFloats(row, "bid_prices")
	bidQty, ok2 := tickInts(row, "bid_qty")
	askPx, ok3 := tickFloats(row, "ask_prices")
	askQty, ok4 := tickInts(row, "ask_qty")
	if !ok1 || !ok2 || !ok3 || !ok4 || len(bidPx) != len(bidQty) || len(askPx) != len(askQty) {
		return nil, nil, false
	}
	return levels(bidPx, bidQty), levels(askPx, askQty), true
}

func levels(px []float64, qty []int64) []model.FutureLevel {
	if len(px) > model.FutureDepth {
		px, qty = px[:model.FutureDepth], qty[:model.FutureDepth]
	}
	out := make([]model.FutureLevel, len(px))
	for i := range px {
		out[i] = model.FutureLevel{
			Price:          model.Float64(px[i]),
			TradableVolume: model.Int64(qty[i]),
		}
	}
	return out
}

// Future builds one futures quote from a tick row. Depth is left unset when
// the arrays are absent or malformed. A missing receive time falls back to
// the action time.
func (n *Normalizer) Future(row source.TickRow) (*model.FutureQuote, error) {
	code, ok := text(row["code"])
	if !ok {
		return nil, &ParseError{Field: "code", Err: errMissing}
	}
	businessDate, err := n.tickDate(row, "business_date")
	if err != nil {
		return nil, err
	}
	b := model.NewFutureQuoteBuilder(businessDate, code+cffexSuffix)

	session, err := tickSession(row)
	if err != nil {
		return nil, err
	}
	b.Session(session)

	preInterest, err := tickInt(row, "pre_interest")
	if err != nil {
		return nil, err
	}
	if preInterest != nil {
		b.PreInterest(*preInterest)
	}

	if bids, offers, ok := futureDepth(row); ok {
		for i, l := range bids {
			b.Bid(i, l)
		}
		for i, l := range offers {
			b.Offer(i, l)
		}
	}

	actionDate, err := tickRequiredInt(row, "action_date")
	if err != nil {
		return nil, err
	}
	actionTime, err := tickRequiredInt(row, "action_time")
	if err != nil {
		return nil, err
	}
	eventTime, err := n.ActionTime(actionDate, actionTime)
	if err != nil {
		return nil, err
	}
	b.EventTime(eventTime)

	recvTime, err := n.tickTimestamp(row, "receive_time")
	if err != nil {
		return nil, err
	}
	if recvTime.IsZero() {
		log.Warn().Str("code", code).Msg("future without receive time, using action time")
		recvTime = eventTime
	}
	b.ReceiveTime(recvTime)
	return b.Build()
}

// Futures builds one futures quote per tick row, dropping and logging rows that fail.
func (n *Normalizer) Futures(rows []source.TickRow) Result {
	var res Result
	for _, row := range rows {
		row := row
		code, _ := text(row["code"])
		res.collect(model.KindFuture, code, func() (model.Record, error) {
			f, err := n.Future(row)
			if f == nil {
				return nil, err
			}
			return f, err
		})
	}
	return res
}
