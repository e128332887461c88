package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/milkywaybrain/bondetl/internal/model"
)

// Terminal is for displaying records on terminal instead of loading them.
// It backs the dry run mode.
type Terminal struct {
	out     io.Writer
	batches int
	records int
}

var terminal Terminal

// TerminalTimestamp is used as a format to display receive times.
const TerminalTimestamp = "2006-01-02 15:04:05.000"

// InitTerminal initializes terminal display.
// Output writer is always os.Stdout except in case of testing where buffer will be set as output terminal.
func InitTerminal(out io.Writer) *Terminal {
	if terminal.out == nil {
		terminal = Terminal{
			out: out,
		}
	}
	return &terminal
}

// Initialize implements Loader.
func (t *Terminal) Initialize(_ context.Context) error { return nil }

// CreateTemporaryTables resets the per day counters.
func (t *Terminal) CreateTemporaryTables(_ context.Context) error {
	t.batches, t.records = 0, 0
	return nil
}

// Load outputs one line per record in batch order.
func (t *Terminal) Load(_ context.Context, batch []model.Record) error {
	t.batches++
	for _, rec := range batch {
		h := rec.Common()
		fmt.Fprintf(t.out, "%-15s%-18s%-8s%-25s%s\n", rec.Kind(), h.ExchProductID, h.Source, h.ReceiveTime.Format(TerminalTimestamp), summary(rec))
	}
	t.records += len(batch)
	return nil
}

// Cleanup outputs the day totals.
func (t *Terminal) Cleanup(_ context.Context) error {
	fmt.Fprintf(t.out, "%-15s%d records in %d batches\n\n", "Day END", t.records, t.batches)
	return nil
}

// Close implements Loader.
func (t *Terminal) Close() error { return nil }

func summary(rec model.Record) string {
	switch r := rec.(type) {
	case *model.Quote:
		return "bid " + price(r.Bids[0].Price) + " offer " + price(r.Offers[0].Price)
	case *model.Trade:
		return string(r.LastSide) + " " + price(r.LastPrice) + " x " + volume(r.LastVolume)
	case *model.FutureQuote:
		return "last " + price(r.Session.ClosePrice) + " bid " + price(r.Bids[0].Price) + " ask " + price(r.Offers[0].Price)
	}
	return ""
}

func price(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func volume(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}
