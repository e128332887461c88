package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// FutureDepth is the number of price levels per side of a futures quote.
const FutureDepth = 5

// FutureLevel is one side of one price level in a futures order book.
type FutureLevel struct {
	Price          *float64 `json:"price"`
	TradableVolume *int64   `json:"tradable_volume"`
	Volume         *int64   `json:"volume"`
}

// Validate checks that price and volumes are non-negative.
func (l *FutureLevel) Validate() error {
	return validation.ValidateStruct(l,
		validation.Field(&l.Price, nonNegativeFloat),
		validation.Field(&l.TradableVolume, nonNegativeInt),
		validation.Field(&l.Volume, nonNegativeInt),
	)
}

// FutureQuote is a bond futures level 1 tick with five levels of depth.
type FutureQuote struct {
	Header
	Level       string
	Status      string
	Session     Session
	PreInterest *int64
	Bids        [FutureDepth]FutureLevel
	Offers      [FutureDepth]FutureLevel
}

// Kind implements Record.
func (*FutureQuote) Kind() Kind { return KindFuture }

func (*FutureQuote) record() {}

// FutureQuoteBuilder assembles a FutureQuote, validating each field as it is set.
type FutureQuoteBuilder struct {
	f FutureQuote
	g guard
}

// NewFutureQuoteBuilder starts a CFFEX futures quote for the contract on the business date.
// Futures always settle same day.
func NewFutureQuoteBuilder(businessDate time.Time, exchProductID string) *FutureQuoteBuilder {
	return &FutureQuoteBuilder{
		f: FutureQuote{
			Header: Header{
				BusinessDate:  businessDate,
				ExchProductID: exchProductID,
				ProductType:   "BOND_FUT",
				Exchange:      "CFFEX",
				Source:        "CFFEX",
				SettleSpeed:   SameDay,
			},
			Level:  "L1",
			Status: "Normal",
		},
		g: guard{kind: KindFuture},
	}
}

// EventTime sets the exchange action timestamp.
func (b *FutureQuoteBuilder) EventTime(t time.Time) { b.f.EventTime = t }

// ReceiveTime sets the ingestion timestamp.
func (b *FutureQuoteBuilder) ReceiveTime(t time.Time) {
	if b.g.check("receive_time", t, validation.Required.Error("is required")) {
		b.f.ReceiveTime = t
	}
}

// Session sets the daily statistics.
func (b *FutureQuoteBuilder) Session(s Session) {
	if b.g.checkStruct("session", &s) {
		b.f.Session = s
	}
}

// PreInterest sets the previous day open interest.
func (b *FutureQuoteBuilder) PreInterest(v int64) {
	if b.g.check("pre_interest", v, nonNegativeInt) {
		b.f.PreInterest = Int64(v)
	}
}

// Bid sets the bid level at slot (0 is best).
func (b *FutureQuoteBuilder) Bid(slot int, l FutureLevel) {
	if b.g.checkSlot("bid", slot, FutureDepth) && b.g.checkStruct("bid", &l) {
		b.f.Bids[slot] = l
	}
}

// Offer sets the offer level at slot (0 is best).
func (b *FutureQuoteBuilder) Offer(slot int, l FutureLevel) {
	if b.g.checkSlot("offer", slot, FutureDepth) && b.g.checkStruct("offer", &l) {
		b.f.Offers[slot] = l
	}
}

// Err returns the first validation failure, if any.
func (b *FutureQuoteBuilder) Err() error { return b.g.err }

// Build returns the finished futures quote or the first validation failure.
func (b *FutureQuoteBuilder) Build() (*FutureQuote, error) {
	if err := b.g.finish(&b.f.Header); err != nil {
		return nil, err
	}
	f := b.f
	return &f, nil
}
