package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"residuals/internal/schema"
	"residuals/internal/staging"
	"residuals/internal/warehouse"
	"residuals/internal/warehouse/sqlite"
	"residuals/internal/warehouse/sqlwh"
)

var lineSchema = schema.Schema{
	{Name: "y", Type: schema.Float},
	{Name: "x", Type: schema.Integer},
}

func openWarehouse(t *testing.T, dsn string) *sqlwh.Warehouse {
	t.Helper()
	if dsn == "" {
		dsn = filepath.Join(t.TempDir(), "wh.db")
	}
	w, err := sqlite.Open(context.Background(), warehouse.Config{Kind: "sqlite", DSN: dsn, Project: "local", ShardRows: 7})
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func localStore(t *testing.T, name string) staging.Store {
	t.Helper()
	st, err := staging.Open(context.Background(), staging.Location{Scheme: "file", Path: filepath.Join(t.TempDir(), name)})
	if err != nil {
		t.Fatalf("staging.Open: %v", err)
	}
	return st
}

// seedLine provisions ref with lineSchema and inserts y = 2x + 1 for
// x in [1, n]; rows listed in nullX get a NULL x.
func seedLine(t *testing.T, w *sqlwh.Warehouse, ref warehouse.TableRef, n int, nullX ...int) {
	t.Helper()
	ctx := context.Background()
	if err := Provision(ctx, w, ref, lineSchema); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	isNull := map[int]bool{}
	for _, i := range nullX {
		isNull[i] = true
	}
	table := `"` + ref.Dataset + sqlite.TableSep + ref.Table + `"`
	for i := 1; i <= n; i++ {
		var x any = int64(i)
		if isNull[i] {
			x = nil
		}
		if _, err := w.DB().ExecContext(ctx, `INSERT INTO `+table+` (y, x) VALUES (?, ?)`, float64(2*i+1), x); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

// stubWarehouse overrides selected Warehouse methods; the rest panic through
// the nil embedded interface.
type stubWarehouse struct {
	warehouse.Warehouse

	exists   func(warehouse.TableRef) (bool, error)
	create   func(warehouse.TableRef, schema.Schema) error
	describe func(warehouse.TableRef) (schema.Schema, error)
}

func (s *stubWarehouse) TableExists(_ context.Context, ref warehouse.TableRef) (bool, error) {
	return s.exists(ref)
}

func (s *stubWarehouse) CreateTable(_ context.Context, ref warehouse.TableRef, sc schema.Schema) error {
	return s.create(ref, sc)
}

func (s *stubWarehouse) DescribeTable(_ context.Context, ref warehouse.TableRef) (schema.Schema, error) {
	return s.describe(ref)
}

// unwritableStore fails CheckWritable.
type unwritableStore struct {
	staging.Store
	err error
}

func (s unwritableStore) URL() string                         { return "file:///readonly" }
func (s unwritableStore) CheckWritable(context.Context) error { return s.err }
