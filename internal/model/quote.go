package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// QuoteDepth is the number of price levels per side of an XBond quote.
const QuoteDepth = 6

// QuoteLevel is one side of one price level in an XBond order book.
type QuoteLevel struct {
	Price          *float64  `json:"price"`
	Yield          *float64  `json:"yield"`
	YieldType      YieldType `json:"yield_type"`
	TradableVolume *int64    `json:"tradable_volume"`
	Volume         *int64    `json:"volume"`
}

// Validate checks price, tradable volume and yield type of the level.
func (l *QuoteLevel) Validate() error {
	return validation.ValidateStruct(l,
		validation.Field(&l.Price, nonNegativeFloat),
		validation.Field(&l.YieldType, knownYieldType),
		validation.Field(&l.TradableVolume, nonNegativeInt),
	)
}

// Quote is a consolidated XBond order book snapshot.
type Quote struct {
	Header
	Level       string
	Status      string
	Session     Session
	PreInterest *float64
	Bids        [QuoteDepth]QuoteLevel
	Offers      [QuoteDepth]QuoteLevel
}

// Kind implements Record.
func (*Quote) Kind() Kind { return KindQuote }

func (*Quote) record() {}

// QuoteBuilder assembles a Quote, validating each field as it is set.
type QuoteBuilder struct {
	q Quote
	g guard
}

// NewQuoteBuilder starts an XBond quote for the instrument on the business date.
func NewQuoteBuilder(businessDate time.Time, exchProductID string) *QuoteBuilder {
	return &QuoteBuilder{
		q: Quote{
			Header: Header{
				BusinessDate:  businessDate,
				ExchProductID: exchProductID,
				ProductType:   "BOND",
				Exchange:      "CFETS",
				Source:        "XBOND",
			},
			Level:  "L2",
			Status: "Normal",
		},
		g: guard{kind: KindQuote},
	}
}

// SettleSpeed sets the settlement flag.
func (b *QuoteBuilder) SettleSpeed(s SettleSpeed) {
	if b.g.check("settle_speed", s, knownSettleSpeed) {
		b.q.SettleSpeed = s
	}
}

// EventTime sets the producer timestamp.
func (b *QuoteBuilder) EventTime(t time.Time) { b.q.EventTime = t }

// ReceiveTime sets the ingestion timestamp.
func (b *QuoteBuilder) ReceiveTime(t time.Time) {
	if b.g.check("receive_time", t, validation.Required.Error("is required")) {
		b.q.ReceiveTime = t
	}
}

// Session sets the daily statistics.
func (b *QuoteBuilder) Session(s Session) {
	if b.g.checkStruct("session", &s) {
		b.q.Session = s
	}
}

// PreInterest sets the previous day accrued interest.
func (b *QuoteBuilder) PreInterest(v float64) { b.q.PreInterest = Float64(v) }

// Bid sets the bid level at slot (0 is best).
func (b *QuoteBuilder) Bid(slot int, l QuoteLevel) {
	if b.g.checkSlot("bid", slot, QuoteDepth) && b.g.checkStruct("bid", &l) {
		b.q.Bids[slot] = l
	}
}

// Offer sets the offer level at slot (0 is best).
func (b *QuoteBuilder) Offer(slot int, l QuoteLevel) {
	if b.g.checkSlot("offer", slot, QuoteDepth) && b.g.checkStruct("offer", &l) {
		b.q.Offers[slot] = l
	}
}

// Err returns the first validation failure, if any.
func (b *QuoteBuilder) Err() error { return b.g.err }

// Build returns the finished quote or the first validation failure.
func (b *QuoteBuilder) Build() (*Quote, error) {
	if err := b.g.finish(&b.q.Header); err != nil {
		return nil, err
	}
	q := b.q
	return &q, nil
}
