// Package sqlite registers a SQLite-backed warehouse under kind "sqlite".
// It is the backend used for local runs and tests: the DSN is a database file
// path, and every dataset lives in that one file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers driver "sqlite"

	"residuals/internal/warehouse"
	"residuals/internal/warehouse/sqlwh"
)

// newWarehouse is a test hook that points to Open by default.
var newWarehouse = Open

func init() {
	warehouse.Register("sqlite", func(ctx context.Context, cfg warehouse.Config) (warehouse.Warehouse, error) {
		w, err := newWarehouse(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}

// Open connects to the SQLite database at cfg.DSN, e.g.
//
//	"residuals.db"
//	"file:residuals.db?_pragma=busy_timeout(5000)"
func Open(ctx context.Context, cfg warehouse.Config) (*sqlwh.Warehouse, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and a single
	// connection keeps transactions and schema changes visible to every call.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;")

	return sqlwh.New(db, Dialect{}, cfg), nil
}
