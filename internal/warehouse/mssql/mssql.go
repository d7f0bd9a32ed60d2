// Package mssql registers a Microsoft SQL Server warehouse under kind
// "mssql". Loads use the go-mssqldb bulk copy API inside the transaction that
// creates the destination table.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/microsoft/go-mssqldb/msdsn"

	"residuals/internal/warehouse"
	"residuals/internal/warehouse/sqlwh"
)

// newWarehouse is a test hook that points to Open by default.
var newWarehouse = Open

func init() {
	warehouse.Register("mssql", func(ctx context.Context, cfg warehouse.Config) (warehouse.Warehouse, error) {
		w, err := newWarehouse(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}

// Open validates cfg.DSN and connects.
func Open(ctx context.Context, cfg warehouse.Config) (*sqlwh.Warehouse, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return sqlwh.New(db, Dialect{}, cfg), nil
}
