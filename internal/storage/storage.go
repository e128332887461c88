package storage

import (
	"context"

	"github.com/milkywaybrain/bondetl/internal/model"
)

// Loader represents the target store the merged records of a day are loaded into.
// A day runs CreateTemporaryTables, one Load per batch in receive time order,
// then Cleanup. Initialize and Close bracket the whole run.
type Loader interface {
	Initialize(context.Context) error
	CreateTemporaryTables(context.Context) error
	Load(context.Context, []model.Record) error
	Cleanup(context.Context) error
	Close() error
}

// Partition splits a batch by record kind. Each part keeps the batch order.
func Partition(batch []model.Record) (quotes []*model.Quote, trades []*model.Trade, futures []*model.FutureQuote) {
	for _, rec := range batch {
		switch r := rec.(type) {
		case *model.Quote:
			quotes = append(quotes, r)
		case *model.Trade:
			trades = append(trades, r)
		case *model.FutureQuote:
			futures = append(futures, r)
		}
	}
	return
}
