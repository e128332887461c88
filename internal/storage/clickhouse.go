package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/milkywaybrain/bondetl/internal/config"
	"github.com/milkywaybrain/bondetl/internal/model"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ClickHouse is for connecting and inserting data to ClickHouse.
// Each day is staged in *_temp tables and moved to the stream tables by Cleanup,
// so a failed day leaves the stream tables untouched.
type ClickHouse struct {
	DB  *sql.DB
	Cfg *config.ClickHouse
}

var clickHouse ClickHouse

type table struct {
	name string
	cols []column
}

var streamTables = []table{
	{QuoteTable, quoteColumns},
	{TradeTable, tradeColumns},
	{FutureTable, futureColumns},
}

// InitClickHouse initializes ClickHouse connection with configured values.
func InitClickHouse(cfg *config.ClickHouse) (*ClickHouse, error) {
	if clickHouse.DB == nil {
		db, err := sql.Open("clickhouse", dataSourceName(cfg))
		if err != nil {
			return nil, err
		}
		clickHouse = ClickHouse{
			DB:  db,
			Cfg: cfg,
		}
	}
	return &clickHouse, nil
}

func dataSourceName(cfg *config.ClickHouse) string {
	var dataSourceName strings.Builder
	dataSourceName.WriteString(cfg.URL + "?")
	dataSourceName.WriteString("database=" + cfg.Schema)
	dataSourceName.WriteString("&read_timeout=" + fmt.Sprintf("%d", cfg.ReqTimeoutSec) + "&write_timeout=" + fmt.Sprintf("%d", cfg.ReqTimeoutSec))
	if strings.TrimSpace(cfg.User) != "" && strings.TrimSpace(cfg.Password) != "" {
		dataSourceName.WriteString("&username=" + cfg.User + "&password=" + cfg.Password)
	}
	if cfg.Compression {
		dataSourceName.WriteString("&compress=1")
	}
	var hosts []string
	for _, v := range cfg.AltHosts {
		if strings.TrimSpace(v) != "" {
			hosts = append(hosts, v)
		}
	}
	if len(hosts) > 0 {
		dataSourceName.WriteString("&alt_hosts=" + strings.Join(hosts, ","))
	}
	return dataSourceName.String()
}

// Initialize checks the connection and creates the stream tables if missing.
func (c *ClickHouse) Initialize(ctx context.Context) error {
	if err := c.DB.PingContext(ctx); err != nil {
		return errors.Wrap(err, "clickhouse ping")
	}
	for _, t := range streamTables {
		if _, err := c.DB.ExecContext(ctx, createTableSQL(t.name, t.cols)); err != nil {
			return errors.Wrapf(err, "create table %s", t.name)
		}
	}
	log.Info().Msg("clickhouse stream tables ready")
	return nil
}

// CreateTemporaryTables replaces the staging tables with empty ones.
func (c *ClickHouse) CreateTemporaryTables(ctx context.Context) error {
	for _, t := range streamTables {
		temp := t.name + tempSuffix
		if _, err := c.DB.ExecContext(ctx, "DROP TABLE IF EXISTS "+temp); err != nil {
			return errors.Wrapf(err, "drop table %s", temp)
		}
		if _, err := c.DB.ExecContext(ctx, "CREATE TABLE "+temp+" AS "+t.name); err != nil {
			return errors.Wrapf(err, "create table %s", temp)
		}
		log.Debug().Str("table", temp).Msg("temporary table created")
	}
	return nil
}

// Load partitions the batch by kind and inserts each part into its staging table.
func (c *ClickHouse) Load(ctx context.Context, batch []model.Record) error {
	quotes, trades, futures := Partition(batch)
	if len(quotes) > 0 {
		rows := make([][]interface{}, len(quotes))
		for i, q := range quotes {
			rows[i] = quoteValues(q)
		}
		if err := c.commit(ctx, QuoteTable+tempSuffix, quoteColumns, rows); err != nil {
			return err
		}
	}
	if len(trades) > 0 {
		rows := make([][]interface{}, len(trades))
		for i, t := range trades {
			rows[i] = tradeValues(t)
		}
		if err := c.commit(ctx, TradeTable+tempSuffix, tradeColumns, rows); err != nil {
			return err
		}
	}
	if len(futures) > 0 {
		rows := make([][]interface{}, len(futures))
		for i, f := range futures {
			rows[i] = futureValues(f)
		}
		if err := c.commit(ctx, FutureTable+tempSuffix, futureColumns, rows); err != nil {
			return err
		}
	}
	log.Debug().Int("quotes", len(quotes)).Int("trades", len(trades)).Int("futures", len(futures)).Msg("batch loaded")
	return nil
}

// commit batch inserts rows in one transaction.
func (c *ClickHouse) commit(ctx context.Context, table string, cols []column, rows [][]interface{}) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "begin insert into %s", table)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL(table, cols))
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, "prepare insert into %s", table)
	}
	defer stmt.Close()

	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "insert into %s", table)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit insert into %s", table)
	}
	return nil
}

// Cleanup moves the staged day into the stream tables and drops the staging tables.
func (c *ClickHouse) Cleanup(ctx context.Context) error {
	for _, t := range streamTables {
		temp := t.name + tempSuffix
		if _, err := c.DB.ExecContext(ctx, "INSERT INTO "+t.name+" SELECT * FROM "+temp); err != nil {
			return errors.Wrapf(err, "publish %s", temp)
		}
		if _, err := c.DB.ExecContext(ctx, "DROP TABLE IF EXISTS "+temp); err != nil {
			return errors.Wrapf(err, "drop table %s", temp)
		}
	}
	log.Info().Msg("clickhouse temporary tables cleaned up")
	return nil
}

// Close closes the connection pool.
func (c *ClickHouse) Close() error {
	if c.DB == nil {
		return nil
	}
	err := c.DB.Close()
	clickHouse = ClickHouse{}
	return err
}
