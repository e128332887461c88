package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/milkywaybrain/bondetl/internal/model"
)

// Permanent stream tables and the per day staging tables loaded before them.
const (
	QuoteTable  = "xbond_quote_stream"
	TradeTable  = "xbond_trade_stream"
	FutureTable = "fut_market_price_stream"

	tempSuffix = "_temp"
)

type column struct {
	name string
	typ  string
}

var headerColumns = []column{
	{"business_date", "Date"},
	{"exch_product_id", "LowCardinality(String)"},
	{"product_type", "LowCardinality(String)"},
	{"exchange", "LowCardinality(String)"},
	{"source", "LowCardinality(String)"},
	{"settle_speed", "UInt8"},
}

var timeColumns = []column{
	{"event_time", "Nullable(DateTime64(3))"},
	{"receive_time", "DateTime64(3)"},
}

func sessionColumns(preInterestType string) []column {
	return []column{
		{"level", "LowCardinality(String)"},
		{"status", "LowCardinality(String)"},
		{"pre_close_price", "Nullable(Float64)"},
		{"pre_settle_price", "Nullable(Float64)"},
		{"pre_interest", preInterestType},
		{"open_price", "Nullable(Float64)"},
		{"high_price", "Nullable(Float64)"},
		{"low_price", "Nullable(Float64)"},
		{"close_price", "Nullable(Float64)"},
		{"settle_price", "Nullable(Float64)"},
		{"upper_limit", "Nullable(Float64)"},
		{"lower_limit", "Nullable(Float64)"},
		{"total_volume", "Nullable(Int64)"},
		{"total_turnover", "Nullable(Float64)"},
		{"open_interest", "Nullable(Int64)"},
	}
}

func quoteLadderColumns() []column {
	var cols []column
	for i := 0; i < model.QuoteDepth; i++ {
		for _, side := range []string{"bid", "offer"} {
			p := side + strconv.Itoa(i) + "_"
			cols = append(cols,
				column{p + "price", "Nullable(Float64)"},
				column{p + "yield", "Nullable(Float64)"},
				column{p + "yield_type", "Nullable(String)"},
				column{p + "tradable_volume", "Nullable(Int64)"},
				column{p + "volume", "Nullable(Int64)"},
			)
		}
	}
	return cols
}

func futureLadderColumns() []column {
	var cols []column
	for i := 0; i < model.FutureDepth; i++ {
		for _, side := range []string{"bid", "offer"} {
			p := side + strconv.Itoa(i) + "_"
			cols = append(cols,
				column{p + "price", "Nullable(Float64)"},
				column{p + "tradable_volume", "Nullable(Int64)"},
				column{p + "volume", "Nullable(Int64)"},
			)
		}
	}
	return cols
}

func concat(parts ...[]column) []column {
	var out []column
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var (
	quoteColumns = concat(headerColumns, sessionColumns("Nullable(Float64)"), quoteLadderColumns(), timeColumns)
	tradeColumns = concat(headerColumns, []column{
		{"last_trade_price", "Nullable(Float64)"},
		{"last_trade_yield", "Nullable(Float64)"},
		{"last_trade_yield_type", "Nullable(String)"},
		{"last_trade_volume", "Nullable(Int64)"},
		{"last_trade_turnover", "Nullable(Float64)"},
		{"last_trade_interest", "Nullable(Float64)"},
		{"last_trade_side", "LowCardinality(String)"},
	}, timeColumns)
	futureColumns = concat(headerColumns, sessionColumns("Nullable(Int64)"), futureLadderColumns(), timeColumns)
)

func createTableSQL(table string, cols []column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS " + table + " (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.name + " " + c.typ)
	}
	b.WriteString(") ENGINE = MergeTree PARTITION BY toYYYYMM(business_date) ORDER BY (exch_product_id, receive_time)")
	return b.String()
}

func insertSQL(table string, cols []column) string {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
		marks[i] = "?"
	}
	return "INSERT INTO " + table + " (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
}

// Nullable values are passed to the driver as nil or the plain value.

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func headerValues(h model.Header) []interface{} {
	return []interface{}{h.BusinessDate, h.ExchProductID, h.ProductType, h.Exchange, h.Source, uint8(h.SettleSpeed)}
}

func timeValues(h model.Header) []interface{} {
	return []interface{}{nullTime(h.EventTime), h.ReceiveTime}
}

func sessionValues(level, status string, s *model.Session, preInterest interface{}) []interface{} {
	return []interface{}{
		level, status,
		nullFloat(s.PreClosePrice), nullFloat(s.PreSettlePrice), preInterest,
		nullFloat(s.OpenPrice), nullFloat(s.HighPrice), nullFloat(s.LowPrice),
		nullFloat(s.ClosePrice), nullFloat(s.SettlePrice),
		nullFloat(s.UpperLimit), nullFloat(s.LowerLimit),
		nullInt(s.TotalVolume), nullFloat(s.TotalTurnover), nullInt(s.OpenInterest),
	}
}

func quoteValues(q *model.Quote) []interface{} {
	vals := headerValues(q.Header)
	vals = append(vals, sessionValues(q.Level, q.Status, &q.Session, nullFloat(q.PreInterest))...)
	for i := 0; i < model.QuoteDepth; i++ {
		for _, l := range []*model.QuoteLevel{&q.Bids[i], &q.Offers[i]} {
			vals = append(vals, nullFloat(l.Price), nullFloat(l.Yield), nullString(string(l.YieldType)), nullInt(l.TradableVolume), nullInt(l.Volume))
		}
	}
	return append(vals, timeValues(q.Header)...)
}

func tradeValues(t *model.Trade) []interface{} {
	vals := headerValues(t.Header)
	vals = append(vals,
		nullFloat(t.LastPrice), nullFloat(t.LastYield), nullString(string(t.LastYieldType)),
		nullInt(t.LastVolume), nullFloat(t.LastTurnover), nullFloat(t.LastInterest),
		string(t.LastSide),
	)
	return append(vals, timeValues(t.Header)...)
}

func futureValues(f *model.FutureQuote) []interface{} {
	vals := headerValues(f.Header)
	vals = append(vals, sessionValues(f.Level, f.Status, &f.Session, nullInt(f.PreInterest))...)
	for i := 0; i < model.FutureDepth; i++ {
		for _, l := range []*model.FutureLevel{&f.Bids[i], &f.Offers[i]} {
			vals = append(vals, nullFloat(l.Price), nullInt(l.TradableVolume), nullInt(l.Volume))
		}
	}
	return append(vals, timeValues(f.Header)...)
}
