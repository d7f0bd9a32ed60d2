package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"residuals/internal/ddl"
	"residuals/internal/schema"
	"residuals/internal/warehouse"
	"residuals/internal/warehouse/sqlwh"
)

// errDuplicateObject is "There is already an object named ... in the database."
const errDuplicateObject = 2714

// Dialect is the SQL Server flavour of sqlwh.Dialect. Datasets map to schemas.
type Dialect struct{}

var _ sqlwh.Dialect = Dialect{}

func (Dialect) Kind() string { return "mssql" }

// QuoteIdent brackets id, escaping ']' as ']]'.
func (Dialect) QuoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func (Dialect) ColumnType(t schema.Type) string {
	switch t {
	case schema.Float:
		return "FLOAT"
	case schema.Integer:
		return "BIGINT"
	case schema.Boolean:
		return "BIT"
	default:
		return "NVARCHAR(MAX)"
	}
}

func parseType(dataType string) (schema.Type, error) {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "float", "real", "decimal", "numeric":
		return schema.Float, nil
	case "bigint", "int", "smallint", "tinyint":
		return schema.Integer, nil
	case "bit":
		return schema.Boolean, nil
	case "nvarchar", "varchar", "nchar", "char", "ntext", "text":
		return schema.String, nil
	}
	return "", fmt.Errorf("mssql: unsupported column type %q", dataType)
}

func (Dialect) TableName(dataset, table string) []string { return []string{dataset, table} }

func (Dialect) EnsureDataset(ctx context.Context, q sqlwh.Querier, dataset string) error {
	_, err := q.ExecContext(ctx, `
DECLARE @stmt NVARCHAR(MAX) = N'CREATE SCHEMA ' + QUOTENAME(@p1);
IF SCHEMA_ID(@p1) IS NULL EXEC (@stmt);`, dataset)
	return err
}

func (Dialect) TableExists(ctx context.Context, q sqlwh.Querier, name []string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`,
		name[0], name[1],
	).Scan(&n)
	return n > 0, err
}

func (Dialect) Describe(ctx context.Context, q sqlwh.Querier, name []string) (schema.Schema, error) {
	rows, err := q.QueryContext(ctx, `
SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE
  FROM INFORMATION_SCHEMA.COLUMNS
 WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
 ORDER BY ORDINAL_POSITION`, name[0], name[1])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out schema.Schema
	for rows.Next() {
		var col, dataType, nullable string
		if err := rows.Scan(&col, &dataType, &nullable); err != nil {
			return nil, err
		}
		t, err := parseType(dataType)
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

// BulkInsert streams rows through the TDS bulk copy API.
func (d Dialect) BulkInsert(ctx context.Context, tx *sql.Tx, name []string, cols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(ddl.QuoteName(d, name), mssql.BulkOptions{}, cols...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk copy: %w", err)
	}
	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx) // flush
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	return res.RowsAffected()
}

func (Dialect) TransactionalDDL() bool { return true }

func (d Dialect) RenameTable(ctx context.Context, q sqlwh.Querier, from, to []string) error {
	_, err := q.ExecContext(ctx, `EXEC sp_rename @p1, @p2`,
		ddl.QuoteName(d, from), to[len(to)-1])
	return err
}

func (Dialect) IsDuplicateTable(err error) bool {
	var me mssql.Error
	return errors.As(err, &me) && me.Number == errDuplicateObject
}
