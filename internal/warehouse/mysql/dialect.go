package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"residuals/internal/ddl"
	"residuals/internal/schema"
	"residuals/internal/warehouse"
	"residuals/internal/warehouse/sqlwh"
)

// errTableExists is ER_TABLE_EXISTS_ERROR.
const errTableExists = 1050

// insertChunk bounds rows per multi-row INSERT, keeping well under the
// 65535 placeholder limit for any realistic column count.
const insertChunk = 500

// Dialect is the MySQL flavour of sqlwh.Dialect. Datasets map to databases.
// MySQL commits DDL implicitly, so loads go through a scratch table that is
// renamed into place.
type Dialect struct{}

var _ sqlwh.Dialect = Dialect{}

func (Dialect) Kind() string { return "mysql" }

func (Dialect) QuoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

func (Dialect) ColumnType(t schema.Type) string {
	switch t {
	case schema.Float:
		return "DOUBLE"
	case schema.Integer:
		return "BIGINT"
	case schema.Boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// parseType maps DATA_TYPE/COLUMN_TYPE onto a schema type. BOOLEAN is an
// alias for TINYINT(1), so the column type is needed to tell them apart.
func parseType(dataType, columnType string) (schema.Type, error) {
	dt := strings.ToLower(strings.TrimSpace(dataType))
	if dt == "tinyint" && strings.HasPrefix(strings.ToLower(columnType), "tinyint(1)") {
		return schema.Boolean, nil
	}
	switch dt {
	case "double", "float", "decimal", "numeric":
		return schema.Float, nil
	case "bigint", "int", "integer", "mediumint", "smallint", "tinyint":
		return schema.Integer, nil
	case "bool", "boolean", "bit":
		return schema.Boolean, nil
	case "text", "mediumtext", "longtext", "tinytext", "varchar", "char":
		return schema.String, nil
	}
	return "", fmt.Errorf("mysql: unsupported column type %q", columnType)
}

func (Dialect) TableName(dataset, table string) []string { return []string{dataset, table} }

func (d Dialect) EnsureDataset(ctx context.Context, q sqlwh.Querier, dataset string) error {
	_, err := q.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+d.QuoteIdent(dataset))
	return err
}

func (Dialect) TableExists(ctx context.Context, q sqlwh.Querier, name []string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		name[0], name[1],
	).Scan(&n)
	return n > 0, err
}

func (Dialect) Describe(ctx context.Context, q sqlwh.Querier, name []string) (schema.Schema, error) {
	rows, err := q.QueryContext(ctx, `
SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, IS_NULLABLE
  FROM information_schema.columns
 WHERE table_schema = ? AND table_name = ?
 ORDER BY ORDINAL_POSITION`, name[0], name[1])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out schema.Schema
	for rows.Next() {
		var col, dataType, columnType, nullable string
		if err := rows.Scan(&col, &dataType, &columnType, &nullable); err != nil {
			return nil, err
		}
		t, err := parseType(dataType, columnType)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out = append(out, schema.Column{Name: col, Type: t, Required: nullable == "NO"})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, warehouse.ErrTableNotFound
	}
	return out, nil
}

// BulkInsert issues multi-row INSERTs of up to insertChunk rows.
func (d Dialect) BulkInsert(ctx context.Context, tx *sql.Tx, name []string, cols []string, rows [][]any) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += insertChunk {
		chunk := rows[start:min(start+insertChunk, len(rows))]
		args := make([]any, 0, len(chunk)*len(cols))
		for _, r := range chunk {
			if len(r) != len(cols) {
				return total, fmt.Errorf("row length %d != columns length %d", len(r), len(cols))
			}
			args = append(args, r...)
		}
		res, err := tx.ExecContext(ctx, ddl.BuildMultiInsertSQL(d, name, cols, len(chunk), sqlwh.PlaceholderQ), args...)
		if err != nil {
			return total, fmt.Errorf("insert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (Dialect) TransactionalDDL() bool { return false }

// RenameTable uses RENAME TABLE, which is atomic and fails if to exists.
func (d Dialect) RenameTable(ctx context.Context, q sqlwh.Querier, from, to []string) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf("RENAME TABLE %s TO %s",
		ddl.QuoteName(d, from), ddl.QuoteName(d, to)))
	return err
}

func (Dialect) IsDuplicateTable(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errTableExists
}
