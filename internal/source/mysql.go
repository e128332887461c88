package source

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Querier runs a read query, *sql.DB satisfies it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// rowScanner is the part of *sql.Rows used to read a result set.
type rowScanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// FutureTicks extracts bond futures ticks from the relational tick table.
type FutureTicks struct {
	db    Querier
	query string
}

// NewFutureTicks creates an extractor reading schema.table.
func NewFutureTicks(db Querier, schema, table string) *FutureTicks {
	return &FutureTicks{db: db, query: tickQuery(schema, table)}
}

func tickQuery(schema, table string) string {
	name := "`" + strings.ReplaceAll(table, "`", "") + "`"
	if schema != "" {
		name = "`" + strings.ReplaceAll(schema, "`", "") + "`." + name
	}
	return "SELECT * FROM " + name + " WHERE action_date = ? ORDER BY action_time"
}

// Extract returns every tick whose action date is date, ordered by action time.
func (f *FutureTicks) Extract(ctx context.Context, date time.Time) ([]TickRow, error) {
	actionDate, _ := strconv.Atoi(date.Format("20060102"))
	rows, err := f.db.QueryContext(ctx, f.query, actionDate)
	if err != nil {
		return nil, errors.Wrap(err, "query futures ticks")
	}
	defer rows.Close()

	ticks, err := scanTicks(rows)
	if err != nil {
		return nil, err
	}
	log.Info().Int("action_date", actionDate).Int("rows", len(ticks)).Msg("futures ticks extracted")
	return ticks, nil
}

func scanTicks(rows rowScanner) ([]TickRow, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read futures columns")
	}
	var ticks []TickRow
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "scan futures tick")
		}
		tick := make(TickRow, len(cols))
		for i, c := range cols {
			tick[strings.ToLower(c)] = values[i]
		}
		ticks = append(ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate futures ticks")
	}
	return ticks, nil
}
