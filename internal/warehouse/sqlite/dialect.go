package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"residuals/internal/ddl"
	"residuals/internal/schema"
	"residuals/internal/warehouse"
	"residuals/internal/warehouse/sqlwh"
)

// Dialect is the SQLite flavour of sqlwh.Dialect. SQLite has no schemas
// inside a single database file, so a dataset is folded into the table name:
// dataset "ds", table "t" is stored as "ds__t".
type Dialect struct{}

var _ sqlwh.Dialect = Dialect{}

// TableSep joins dataset and table names.
const TableSep = "__"

func (Dialect) Kind() string { return "sqlite" }

func (Dialect) QuoteIdent(id string) string { return ddl.DoubleQuote(id) }

// ColumnType maps schema types onto SQLite declared types. SQLite is
// dynamically typed; the declared type drives affinity and lets Describe
// recover the logical type.
func (Dialect) ColumnType(t schema.Type) string {
	switch t {
	case schema.Float:
		return "REAL"
	case schema.Integer:
		return "INTEGER"
	case schema.Boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func parseType(decl string) (schema.Type, error) {
	d := strings.ToUpper(strings.TrimSpace(decl))
	switch {
	case d == "BOOLEAN" || d == "BOOL":
		return schema.Boolean, nil
	case strings.Contains(d, "INT"):
		return schema.Integer, nil
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return schema.String, nil
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return schema.Float, nil
	}
	return "", fmt.Errorf("sqlite: unsupported column type %q", decl)
}

func (Dialect) TableName(dataset, table string) []string {
	return []string{dataset + TableSep + table}
}

func (Dialect) EnsureDataset(context.Context, sqlwh.Querier, string) error { return nil }

func (Dialect) TableExists(ctx context.Context, q sqlwh.Querier, name []string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, name[len(name)-1],
	).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (d Dialect) Describe(ctx context.Context, q sqlwh.Querier, name []string) (schema.Schema, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+ddl.QuoteName(d, name)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out schema.Schema
	for rows.Next() {
		var (
			cid     int
			col     string
			decl    string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col, &decl, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		t, err := parseType(decl)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out = append(out, schema.Column{Name: col, Type: t, Required: notNull != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, warehouse.ErrTableNotFound
	}
	return out, nil
}

// BulkInsert uses a prepared single-row INSERT inside the caller's
// transaction; SQLite has no dedicated bulk-load API.
func (d Dialect) BulkInsert(ctx context.Context, tx *sql.Tx, name []string, cols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, ddl.BuildInsertSQL(d, name, cols, sqlwh.PlaceholderQ))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if len(row) != len(cols) {
			return inserted, fmt.Errorf("row length %d != columns length %d", len(row), len(cols))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return inserted, fmt.Errorf("insert: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

func (Dialect) TransactionalDDL() bool { return true }

func (d Dialect) RenameTable(ctx context.Context, q sqlwh.Querier, from, to []string) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		ddl.QuoteName(d, from), d.QuoteIdent(to[len(to)-1])))
	return err
}

func (Dialect) IsDuplicateTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}
