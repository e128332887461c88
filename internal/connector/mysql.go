package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/milkywaybrain/bondetl/internal/config"
)

// MySQL is for the futures tick database.
type MySQL struct {
	DB  *sql.DB
	Cfg *config.MySQL
}

var mysqlConn MySQL

// InitMySQL opens and pings the futures tick database with configured values.
func InitMySQL(ctx context.Context, cfg *config.MySQL) (*MySQL, error) {
	if mysqlConn.DB == nil {
		var dataSourceName strings.Builder
		dataSourceName.WriteString(cfg.User + ":" + cfg.Password + "@" + cfg.URL + "/" + cfg.Schema)
		dataSourceName.WriteString("?parseTime=true&loc=Local")
		if cfg.ReqTimeoutSec > 0 {
			timeout := fmt.Sprintf("%ds", cfg.ReqTimeoutSec)
			dataSourceName.WriteString("&timeout=" + timeout + "&readTimeout=" + timeout)
		}
		db, err := sql.Open("mysql", dataSourceName.String())
		if err != nil {
			return nil, err
		}
		if cfg.ConnMaxLifetimeSec > 0 {
			db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSec) * time.Second)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)

		if err = db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		mysqlConn = MySQL{
			DB:  db,
			Cfg: cfg,
		}
	}
	return &mysqlConn, nil
}

// Close closes the database if it was opened.
func (m *MySQL) Close() error {
	if m.DB == nil {
		return nil
	}
	err := m.DB.Close()
	mysqlConn = MySQL{}
	return err
}
