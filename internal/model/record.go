package model

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Kind identifies one of the three normalized record types.
type Kind int

// Record kinds.
const (
	KindQuote Kind = iota + 1
	KindTrade
	KindFuture
)

func (k Kind) String() string {
	switch k {
	case KindQuote:
		return "xbond_quote"
	case KindTrade:
		return "xbond_trade"
	case KindFuture:
		return "future_quote"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SettleSpeed is the settlement tenor flag, 0 for same day and 1 for next day.
type SettleSpeed int

// Settle speeds.
const (
	SameDay SettleSpeed = 0
	NextDay SettleSpeed = 1
)

// YieldType says which date a quoted yield is computed to.
type YieldType string

// Yield types.
const (
	YieldMaturity YieldType = "MATURITY"
	YieldExercise YieldType = "EXERCISE"
)

// TradeSide is the aggressor side of an XBond execution.
type TradeSide string

// Trade sides.
const (
	SideTaken TradeSide = "TKN"
	SideGiven TradeSide = "GVN"
	SideTrade TradeSide = "TRD"
	SideDone  TradeSide = "DONE"
)

// Record is a normalized market event ready to load.
// The set of implementations is closed: *Quote, *Trade and *FutureQuote.
type Record interface {
	Kind() Kind
	Common() Header
	ReceivedAt() time.Time
	record()
}

// Header holds the fields every record kind shares.
type Header struct {
	BusinessDate  time.Time
	ExchProductID string
	ProductType   string
	Exchange      string
	Source        string
	SettleSpeed   SettleSpeed

	// EventTime is the producer side timestamp, zero when absent.
	EventTime time.Time

	// ReceiveTime is the ingestion timestamp and the global ordering key.
	ReceiveTime time.Time
}

// Common returns a copy of the shared fields.
func (h Header) Common() Header { return h }

// ReceivedAt returns the receive timestamp.
func (h Header) ReceivedAt() time.Time { return h.ReceiveTime }

// Session holds the daily OHLC, settlement and totals of an instrument.
// Nil means the source did not provide the value.
type Session struct {
	PreClosePrice  *float64 `json:"pre_close_price"`
	PreSettlePrice *float64 `json:"pre_settle_price"`
	OpenPrice      *float64 `json:"open_price"`
	HighPrice      *float64 `json:"high_price"`
	LowPrice       *float64 `json:"low_price"`
	ClosePrice     *float64 `json:"close_price"`
	SettlePrice    *float64 `json:"settle_price"`
	UpperLimit     *float64 `json:"upper_limit"`
	LowerLimit     *float64 `json:"lower_limit"`
	TotalVolume    *int64   `json:"total_volume"`
	TotalTurnover  *float64 `json:"total_turnover"`
	OpenInterest   *int64   `json:"open_interest"`
}

// Validate checks that every price and total in the session is non-negative.
func (s *Session) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.PreClosePrice, nonNegativeFloat),
		validation.Field(&s.PreSettlePrice, nonNegativeFloat),
		validation.Field(&s.OpenPrice, nonNegativeFloat),
		validation.Field(&s.HighPrice, nonNegativeFloat),
		validation.Field(&s.LowPrice, nonNegativeFloat),
		validation.Field(&s.ClosePrice, nonNegativeFloat),
		validation.Field(&s.SettlePrice, nonNegativeFloat),
		validation.Field(&s.UpperLimit, nonNegativeFloat),
		validation.Field(&s.LowerLimit, nonNegativeFloat),
		validation.Field(&s.TotalVolume, nonNegativeInt),
		validation.Field(&s.TotalTurnover, nonNegativeFloat),
		validation.Field(&s.OpenInterest, nonNegativeInt),
	)
}

var (
	nonNegativeFloat = validation.Min(0.0).Error("must be non-negative")
	nonNegativeInt   = validation.Min(0).Error("must be non-negative")
	positiveInt      = validation.Min(1).Error("must be positive")
	knownYieldType   = validation.In(YieldMaturity, YieldExercise).Error("must be MATURITY or EXERCISE")
	knownSettleSpeed = validation.In(SameDay, NextDay).Error("must be 0 or 1")
	knownTradeSide   = validation.In(SideTaken, SideGiven, SideTrade, SideDone).Error("must be TKN, GVN, TRD or DONE")
)

// ValidationError reports a record field that violates an invariant.
type ValidationError struct {
	Record Kind
	Field  string
	Err    error
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Record.String() + ": " + e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// guard carries the first validation failure of a builder.
// Once set, every later setter is a no-op and Build returns it.
type guard struct {
	kind Kind
	err  error
}

func (g *guard) check(field string, value interface{}, rules ...validation.Rule) bool {
	if g.err != nil {
		return false
	}
	if err := validation.Validate(value, rules...); err != nil {
		g.err = &ValidationError{Record: g.kind, Field: field, Err: err}
		return false
	}
	return true
}

func (g *guard) checkStruct(field string, v validation.Validatable) bool {
	if g.err != nil {
		return false
	}
	if err := v.Validate(); err != nil {
		g.err = &ValidationError{Record: g.kind, Field: field, Err: err}
		return false
	}
	return true
}

func (g *guard) checkSlot(side string, slot, depth int) bool {
	if g.err != nil {
		return false
	}
	if slot < 0 || slot >= depth {
		g.err = &ValidationError{
			Record: g.kind,
			Field:  side,
			Err:    fmt.Errorf("level %d outside 0..%d", slot, depth-1),
		}
		return false
	}
	return true
}

func (g *guard) finish(h *Header) error {
	if g.err != nil {
		return g.err
	}
	g.check("receive_time", h.ReceiveTime, validation.Required.Error("is required"))
	g.check("settle_speed", h.SettleSpeed, knownSettleSpeed)
	return g.err
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
