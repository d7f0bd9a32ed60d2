// Package mysql registers a MySQL warehouse under kind "mysql".
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"residuals/internal/warehouse"
	"residuals/internal/warehouse/sqlwh"
)

// newWarehouse is a test hook that points to Open by default.
var newWarehouse = Open

func init() {
	warehouse.Register("mysql", func(ctx context.Context, cfg warehouse.Config) (warehouse.Warehouse, error) {
		w, err := newWarehouse(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}

// Open parses cfg.DSN ("user:pass@tcp(host:3306)/"), connects and pings.
func Open(ctx context.Context, cfg warehouse.Config) (*sqlwh.Warehouse, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return sqlwh.New(db, Dialect{}, cfg), nil
}
