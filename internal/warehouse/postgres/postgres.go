// Package postgres implements a Postgres warehouse using pgx v5. Datasets map
// to schemas. Loads create the table and COPY every staged shard into it in a
// single transaction, so a failed load leaves nothing behind.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"

	"residuals/internal/ddl"
	"residuals/internal/records"
	"residuals/internal/schema"
	"residuals/internal/staging"
	"residuals/internal/warehouse"
)

// duplicateTable is SQLSTATE 42P07.
const duplicateTable = "42P07"

// Warehouse is a Postgres-backed warehouse.Warehouse.
type Warehouse struct {
	pool    *pgxpool.Pool
	cfg     warehouse.Config
	closeFn func()
}

var _ warehouse.Warehouse = (*Warehouse)(nil)

// NewWarehouse opens a pgx pool for cfg.DSN.
func NewWarehouse(ctx context.Context, cfg warehouse.Config) (*Warehouse, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Warehouse{pool: pool, cfg: cfg, closeFn: pool.Close}, nil
}

func (w *Warehouse) Kind() string { return "postgres" }

func (w *Warehouse) Close() error {
	if w.closeFn != nil {
		w.closeFn()
	}
	return nil
}

func (w *Warehouse) check(ref warehouse.TableRef) error {
	return warehouse.CheckRef(w.cfg.Project, ref)
}

func ident(ref warehouse.TableRef) pgx.Identifier {
	return pgx.Identifier{ref.Dataset, ref.Table}
}

func isDuplicateTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == duplicateTable
}

func (w *Warehouse) TableExists(ctx context.Context, ref warehouse.TableRef) (bool, error) {
	if err := w.check(ref); err != nil {
		return false, err
	}
	var ok bool
	err := w.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		ref.Dataset, ref.Table,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: table exists %s: %w", ref, err)
	}
	return ok, nil
}

func (w *Warehouse) DescribeTable(ctx context.Context, ref warehouse.TableRef) (schema.Schema, error) {
	if err := w.check(ref); err != nil {
		return nil, err
	}
	rows, err := w.pool.Query(ctx,
		`SELECT column_name, data_type, is_nullable
		   FROM information_schema.columns
		  WHERE table_schema = $1 AND table_name = $2
		  ORDER BY ordinal_position`,
		ref.Dataset, ref.Table,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: describe %s: %w", ref, err)
	}
	defer rows.Close()

	var out schema.Schema
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("postgres: describe %s: %w", ref, err)
		}
		t, err := parseType(dataType)
		if err != nil {
			return nil, fmt.Errorf("postgres: describe %s column %q: %w", ref, name, err)
		}
		out = append(out, schema.Column{Name: name, Type: t, Required: nullable == "NO"})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: describe %s: %w", ref, err)
	}
	if len(out) == 0 {
		return nil, pkgerrors.Wrapf(warehouse.ErrTableNotFound, "%s", ref)
	}
	return out, nil
}

func (w *Warehouse) ensureSchema(ctx context.Context, dataset string) error {
	_, err := w.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+ddl.DoubleQuote(dataset))
	if err != nil {
		return fmt.Errorf("postgres: create schema %s: %w", dataset, err)
	}
	return nil
}

func createSQL(ref warehouse.TableRef, s schema.Schema) (string, error) {
	d := dialect{}
	return ddl.BuildCreateTableSQL(d, ddl.FromSchema([]string{ref.Dataset, ref.Table}, s, d))
}

func (w *Warehouse) CreateTable(ctx context.Context, ref warehouse.TableRef, s schema.Schema) error {
	if err := w.check(ref); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	stmt, err := createSQL(ref, s)
	if err != nil {
		return err
	}
	if err := w.ensureSchema(ctx, ref.Dataset); err != nil {
		return err
	}
	if _, err := w.pool.Exec(ctx, stmt); err != nil {
		if isDuplicateTable(err) {
			return pkgerrors.Wrapf(warehouse.ErrTableExists, "%s", ref)
		}
		return fmt.Errorf("postgres: create %s: %w", ref, err)
	}
	return nil
}

// BulkRead streams SELECT results into staged shards.
func (w *Warehouse) BulkRead(ctx context.Context, ref warehouse.TableRef, st staging.Store) (staging.Manifest, error) {
	s, err := w.DescribeTable(ctx, ref)
	if err != nil {
		return staging.Manifest{}, err
	}
	start := time.Now()
	d := dialect{}
	rows, err := w.pool.Query(ctx, ddl.BuildSelectSQL(d, []string{ref.Dataset, ref.Table}, s.Names()))
	if err != nil {
		return staging.Manifest{}, fmt.Errorf("postgres: select %s: %w", ref, err)
	}
	defer rows.Close()

	exp := &staging.Exporter{Store: st, Schema: s, ShardRows: w.cfg.ShardRows}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			exp.Abort()
			return staging.Manifest{}, fmt.Errorf("postgres: read %s: %w", ref, err)
		}
		for i := range vals {
			if vals[i], err = driverValue(vals[i]); err != nil {
				exp.Abort()
				return staging.Manifest{}, fmt.Errorf("postgres: %s: column %q: %w", ref, s[i].Name, err)
			}
		}
		rec, err := s.CoerceRecord(vals)
		if err != nil {
			exp.Abort()
			return staging.Manifest{}, fmt.Errorf("postgres: %s: %w", ref, err)
		}
		if err := exp.Add(ctx, rec); err != nil {
			exp.Abort()
			return staging.Manifest{}, err
		}
	}
	if err := rows.Err(); err != nil {
		exp.Abort()
		return staging.Manifest{}, fmt.Errorf("postgres: read %s: %w", ref, err)
	}
	m, err := exp.Finish(ctx, ref.String())
	if err != nil {
		return staging.Manifest{}, err
	}
	log.Printf("postgres: exported table=%s rows=%d shards=%d to=%s elapsed=%s",
		ref, m.Rows(), len(m.Shards), st.URL(), time.Since(start).Truncate(time.Millisecond))
	return m, nil
}

// BulkWrite creates ref and COPYs every shard in one transaction.
func (w *Warehouse) BulkWrite(ctx context.Context, ref warehouse.TableRef, st staging.Store) (int64, error) {
	if err := w.check(ref); err != nil {
		return 0, err
	}
	m, err := staging.ReadManifest(ctx, st)
	if err != nil {
		return 0, err
	}
	stmt, err := createSQL(ref, m.Schema)
	if err != nil {
		return 0, err
	}
	if err := w.ensureSchema(ctx, ref.Dataset); err != nil {
		return 0, err
	}

	start := time.Now()
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, stmt); err != nil {
		if isDuplicateTable(err) {
			return 0, pkgerrors.Wrapf(warehouse.ErrTableExists, "%s", ref)
		}
		return 0, fmt.Errorf("postgres: create %s: %w", ref, err)
	}

	cols := m.Schema.Names()
	var total int64
	err = staging.EachShard(ctx, st, m, func(sh staging.ShardInfo, recs []records.Record) error {
		rows := make([][]any, len(recs))
		for i, r := range recs {
			rows[i] = r.Values(cols)
		}
		n, err := tx.CopyFrom(ctx, ident(ref), cols, pgx.CopyFromRows(rows))
		total += n
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Detail != "" {
				return fmt.Errorf("copy shard %s: %s (%s)", sh.Name, pgErr.Detail, pgErr.SQLState())
			}
			return fmt.Errorf("copy shard %s: %w", sh.Name, err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: load %s: %w", ref, err)
	}
	if want := m.Rows(); total != want {
		return 0, fmt.Errorf("postgres: load %s: copied %d rows, manifest has %d", ref, total, want)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit %s: %w", ref, err)
	}
	log.Printf("postgres: loaded table=%s rows=%d shards=%d from=%s elapsed=%s",
		ref, total, len(m.Shards), st.URL(), time.Since(start).Truncate(time.Millisecond))
	return total, nil
}
