package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Trade is a single XBond execution.
type Trade struct {
	Header
	LastPrice     *float64
	LastYield     *float64
	LastYieldType YieldType
	LastVolume    *int64
	LastTurnover  *float64
	LastInterest  *float64
	LastSide      TradeSide
}

// Kind implements Record.
func (*Trade) Kind() Kind { return KindTrade }

func (*Trade) record() {}

// TradeBuilder assembles a Trade, validating each field as it is set.
type TradeBuilder struct {
	t Trade
	g guard
}

// NewTradeBuilder starts an XBond trade for the bond on the business date.
func NewTradeBuilder(businessDate time.Time, exchProductID string) *TradeBuilder {
	return &TradeBuilder{
		t: Trade{
			Header: Header{
				BusinessDate:  businessDate,
				ExchProductID: exchProductID,
				ProductType:   "BOND",
				Exchange:      "CFETS",
				Source:        "XBOND",
			},
		},
		g: guard{kind: KindTrade},
	}
}

// SettleSpeed sets the settlement flag.
func (b *TradeBuilder) SettleSpeed(s SettleSpeed) {
	if b.g.check("settle_speed", s, knownSettleSpeed) {
		b.t.SettleSpeed = s
	}
}

// EventTime sets the deal timestamp.
func (b *TradeBuilder) EventTime(t time.Time) { b.t.EventTime = t }

// ReceiveTime sets the ingestion timestamp.
func (b *TradeBuilder) ReceiveTime(t time.Time) {
	if b.g.check("receive_time", t, validation.Required.Error("is required")) {
		b.t.ReceiveTime = t
	}
}

// LastPrice sets the net price of the execution.
func (b *TradeBuilder) LastPrice(v float64) {
	if b.g.check("last_trade_price", v, nonNegativeFloat) {
		b.t.LastPrice = Float64(v)
	}
}

// LastYield sets the execution yield.
func (b *TradeBuilder) LastYield(v float64) { b.t.LastYield = Float64(v) }

// LastYieldType sets what the execution yield is computed to.
func (b *TradeBuilder) LastYieldType(y YieldType) {
	if b.g.check("last_trade_yield_type", y, validation.Required, knownYieldType) {
		b.t.LastYieldType = y
	}
}

// LastVolume sets the executed size, which must be positive.
func (b *TradeBuilder) LastVolume(v int64) {
	if b.g.check("last_trade_volume", v, validation.Required.Error("must be positive"), positiveInt) {
		b.t.LastVolume = Int64(v)
	}
}

// LastTurnover sets the executed amount.
func (b *TradeBuilder) LastTurnover(v float64) { b.t.LastTurnover = Float64(v) }

// LastInterest sets the accrued interest of the execution.
func (b *TradeBuilder) LastInterest(v float64) { b.t.LastInterest = Float64(v) }

// Side sets the aggressor side.
func (b *TradeBuilder) Side(s TradeSide) {
	if b.g.check("last_trade_side", s, validation.Required, knownTradeSide) {
		b.t.LastSide = s
	}
}

// Err returns the first validation failure, if any.
func (b *TradeBuilder) Err() error { return b.g.err }

// Build returns the finished trade or the first validation failure.
func (b *TradeBuilder) Build() (*Trade, error) {
	if err := b.g.finish(&b.t.Header); err != nil {
		return nil, err
	}
	t := b.t
	return &t, nil
}
