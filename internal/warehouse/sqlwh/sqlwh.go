// Package sqlwh implements warehouse.Warehouse on top of database/sql. The
// per-engine differences (identifier quoting, type mapping, catalog queries,
// bulk insert primitive, whether DDL is transactional) live behind Dialect.
package sqlwh

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"residuals/internal/ddl"
	"residuals/internal/records"
	"residuals/internal/schema"
	"residuals/internal/staging"
	"residuals/internal/warehouse"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures one SQL engine.
type Dialect interface {
	ddl.Dialect

	Kind() string

	// TableName maps a dataset/table pair onto the engine's name parts.
	TableName(dataset, table string) []string

	// EnsureDataset creates the container for dataset if it is missing.
	EnsureDataset(ctx context.Context, q Querier, dataset string) error

	TableExists(ctx context.Context, q Querier, name []string) (bool, error)

	// Describe returns the table schema, or warehouse.ErrTableNotFound.
	Describe(ctx context.Context, q Querier, name []string) (schema.Schema, error)

	// BulkInsert writes rows (aligned with cols) into name within tx.
	BulkInsert(ctx context.Context, tx *sql.Tx, name []string, cols []string, rows [][]any) (int64, error)

	// TransactionalDDL reports whether CREATE TABLE rolls back with its
	// transaction. When false, loads go through a scratch table and
	// RenameTable.
	TransactionalDDL() bool

	// RenameTable atomically renames from to to, failing if to exists.
	RenameTable(ctx context.Context, q Querier, from, to []string) error

	// IsDuplicateTable reports whether err means "table already exists".
	IsDuplicateTable(err error) bool
}

// Warehouse is a database/sql backed warehouse.Warehouse.
type Warehouse struct {
	db        *sql.DB
	d         Dialect
	project   string
	shardRows int
}

var _ warehouse.Warehouse = (*Warehouse)(nil)

// New wraps an open database handle. The Warehouse owns db and closes it on
// Close.
func New(db *sql.DB, d Dialect, cfg warehouse.Config) *Warehouse {
	return &Warehouse{db: db, d: d, project: cfg.Project, shardRows: cfg.ShardRows}
}

// DB exposes the underlying handle, mainly for tests.
func (w *Warehouse) DB() *sql.DB { return w.db }

func (w *Warehouse) Kind() string { return w.d.Kind() }

func (w *Warehouse) Close() error { return w.db.Close() }

func (w *Warehouse) name(ref warehouse.TableRef) ([]string, error) {
	if err := warehouse.CheckRef(w.project, ref); err != nil {
		return nil, err
	}
	return w.d.TableName(ref.Dataset, ref.Table), nil
}

func (w *Warehouse) TableExists(ctx context.Context, ref warehouse.TableRef) (bool, error) {
	name, err := w.name(ref)
	if err != nil {
		return false, err
	}
	ok, err := w.d.TableExists(ctx, w.db, name)
	return ok, errors.Wrapf(err, "%s: table exists %s", w.d.Kind(), ref)
}

func (w *Warehouse) DescribeTable(ctx context.Context, ref warehouse.TableRef) (schema.Schema, error) {
	name, err := w.name(ref)
	if err != nil {
		return nil, err
	}
	s, err := w.d.Describe(ctx, w.db, name)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: describe %s", w.d.Kind(), ref)
	}
	return s, nil
}

func (w *Warehouse) CreateTable(ctx context.Context, ref warehouse.TableRef, s schema.Schema) error {
	name, err := w.name(ref)
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := w.d.EnsureDataset(ctx, w.db, ref.Dataset); err != nil {
		return errors.Wrapf(err, "%s: ensure dataset %s", w.d.Kind(), ref.Dataset)
	}
	return w.create(ctx, w.db, ref, name, s)
}

func (w *Warehouse) create(ctx context.Context, q Querier, ref warehouse.TableRef, name []string, s schema.Schema) error {
	stmt, err := ddl.BuildCreateTableSQL(w.d, ddl.FromSchema(name, s, w.d))
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		if w.d.IsDuplicateTable(err) {
			return errors.Wrapf(warehouse.ErrTableExists, "%s", ref)
		}
		return errors.Wrapf(err, "%s: create table %s", w.d.Kind(), ref)
	}
	return nil
}

// BulkRead exports ref into st.
func (w *Warehouse) BulkRead(ctx context.Context, ref warehouse.TableRef, st staging.Store) (staging.Manifest, error) {
	name, err := w.name(ref)
	if err != nil {
		return staging.Manifest{}, err
	}
	s, err := w.d.Describe(ctx, w.db, name)
	if err != nil {
		return staging.Manifest{}, errors.Wrapf(err, "%s: describe %s", w.d.Kind(), ref)
	}

	start := time.Now()
	rows, err := w.db.QueryContext(ctx, ddl.BuildSelectSQL(w.d, name, s.Names()))
	if err != nil {
		return staging.Manifest{}, errors.Wrapf(err, "%s: select %s", w.d.Kind(), ref)
	}
	defer rows.Close()

	exp := &staging.Exporter{Store: st, Schema: s, ShardRows: w.shardRows}
	vals := make([]any, len(s))
	ptrs := make([]any, len(s))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			exp.Abort()
			return staging.Manifest{}, errors.Wrapf(err, "%s: scan %s", w.d.Kind(), ref)
		}
		rec, err := s.CoerceRecord(vals)
		if err != nil {
			exp.Abort()
			return staging.Manifest{}, errors.Wrapf(err, "%s: %s", w.d.Kind(), ref)
		}
		if err := exp.Add(ctx, rec); err != nil {
			exp.Abort()
			return staging.Manifest{}, err
		}
	}
	if err := rows.Err(); err != nil {
		exp.Abort()
		return staging.Manifest{}, errors.Wrapf(err, "%s: read %s", w.d.Kind(), ref)
	}
	m, err := exp.Finish(ctx, ref.String())
	if err != nil {
		return staging.Manifest{}, err
	}
	log.Printf("%s: exported table=%s rows=%d shards=%d to=%s elapsed=%s",
		w.d.Kind(), ref, m.Rows(), len(m.Shards), st.URL(), time.Since(start).Truncate(time.Millisecond))
	return m, nil
}

// BulkWrite loads the staged manifest in st into a new table ref.
func (w *Warehouse) BulkWrite(ctx context.Context, ref warehouse.TableRef, st staging.Store) (int64, error) {
	name, err := w.name(ref)
	if err != nil {
		return 0, err
	}
	m, err := staging.ReadManifest(ctx, st)
	if err != nil {
		return 0, err
	}
	exists, err := w.d.TableExists(ctx, w.db, name)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: table exists %s", w.d.Kind(), ref)
	}
	if exists {
		return 0, errors.Wrapf(warehouse.ErrTableExists, "%s", ref)
	}
	if err := w.d.EnsureDataset(ctx, w.db, ref.Dataset); err != nil {
		return 0, errors.Wrapf(err, "%s: ensure dataset %s", w.d.Kind(), ref.Dataset)
	}

	start := time.Now()
	var n int64
	if w.d.TransactionalDDL() {
		n, err = w.loadTx(ctx, ref, name, st, m)
	} else {
		n, err = w.loadRename(ctx, ref, name, st, m)
	}
	if err != nil {
		return 0, err
	}
	log.Printf("%s: loaded table=%s rows=%d shards=%d from=%s elapsed=%s",
		w.d.Kind(), ref, n, len(m.Shards), st.URL(), time.Since(start).Truncate(time.Millisecond))
	return n, nil
}

// loadTx creates and fills name in one transaction.
func (w *Warehouse) loadTx(ctx context.Context, ref warehouse.TableRef, name []string, st staging.Store, m staging.Manifest) (int64, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: begin tx", w.d.Kind())
	}
	rollback := func() { _ = tx.Rollback() }

	if err := w.create(ctx, tx, ref, name, m.Schema); err != nil {
		rollback()
		return 0, err
	}
	n, err := w.insertShards(ctx, tx, name, st, m)
	if err != nil {
		rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		if w.d.IsDuplicateTable(err) {
			return 0, errors.Wrapf(warehouse.ErrTableExists, "%s", ref)
		}
		return 0, errors.Wrapf(err, "%s: commit", w.d.Kind())
	}
	return n, nil
}

// loadRename fills a scratch table and renames it into place. Any failure
// drops the scratch table, so ref only ever appears fully loaded.
func (w *Warehouse) loadRename(ctx context.Context, ref warehouse.TableRef, name []string, st staging.Store, m staging.Manifest) (int64, error) {
	scratchRef := ref.WithTable(scratchTable(ref.Table))
	scratch := w.d.TableName(scratchRef.Dataset, scratchRef.Table)
	if err := w.create(ctx, w.db, scratchRef, scratch, m.Schema); err != nil {
		return 0, err
	}
	drop := func() {
		// fresh context: ctx may be the reason we are cleaning up
		dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := w.db.ExecContext(dctx, "DROP TABLE "+ddl.QuoteName(w.d, scratch)); err != nil {
			log.Printf("%s: drop scratch table=%s err=%v", w.d.Kind(), scratchRef, err)
		}
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		drop()
		return 0, errors.Wrapf(err, "%s: begin tx", w.d.Kind())
	}
	n, err := w.insertShards(ctx, tx, scratch, st, m)
	if err != nil {
		_ = tx.Rollback()
		drop()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		drop()
		return 0, errors.Wrapf(err, "%s: commit", w.d.Kind())
	}
	if err := w.d.RenameTable(ctx, w.db, scratch, name); err != nil {
		drop()
		if w.d.IsDuplicateTable(err) {
			return 0, errors.Wrapf(warehouse.ErrTableExists, "%s", ref)
		}
		return 0, errors.Wrapf(err, "%s: rename %s to %s", w.d.Kind(), scratchRef, ref)
	}
	return n, nil
}

func (w *Warehouse) insertShards(ctx context.Context, tx *sql.Tx, name []string, st staging.Store, m staging.Manifest) (int64, error) {
	cols := m.Schema.Names()
	var total int64
	err := staging.EachShard(ctx, st, m, func(sh staging.ShardInfo, recs []records.Record) error {
		rows := make([][]any, len(recs))
		for i, r := range recs {
			rows[i] = r.Values(cols)
		}
		n, err := w.d.BulkInsert(ctx, tx, name, cols, rows)
		total += n
		if err != nil {
			return errors.Wrapf(err, "%s: insert shard %s", w.d.Kind(), sh.Name)
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if want := m.Rows(); total != want {
		return total, fmt.Errorf("%s: inserted %d rows, manifest has %d", w.d.Kind(), total, want)
	}
	return total, nil
}

func scratchTable(table string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	name := table + "__load_" + suffix
	if len(name) > 64 {
		name = name[len(name)-64:]
		if name[0] >= '0' && name[0] <= '9' {
			name = "t" + name[1:]
		}
	}
	return name
}

// PlaceholderQ returns "?" for every index.
func PlaceholderQ(int) string { return "?" }

// PlaceholderAt returns "@p<i>".
func PlaceholderAt(i int) string { return fmt.Sprintf("@p%d", i) }
