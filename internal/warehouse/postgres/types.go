package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"residuals/internal/ddl"
	"residuals/internal/schema"
)

// dialect renders Postgres DDL.
type dialect struct{}

var _ ddl.Dialect = dialect{}

func (dialect) QuoteIdent(id string) string { return ddl.DoubleQuote(id) }

func (dialect) ColumnType(t schema.Type) string {
	switch t {
	case schema.Float:
		return "DOUBLE PRECISION"
	case schema.Integer:
		return "BIGINT"
	case schema.Boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// parseType maps information_schema.columns.data_type onto a schema type.
func parseType(dataType string) (schema.Type, error) {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "double precision", "real", "numeric", "decimal":
		return schema.Float, nil
	case "bigint", "integer", "smallint":
		return schema.Integer, nil
	case "boolean":
		return schema.Boolean, nil
	case "text", "character varying", "character", "varchar", "char":
		return schema.String, nil
	}
	return "", fmt.Errorf("postgres: unsupported column type %q", dataType)
}

// driverValue unwraps pgx values that schema.Coerce does not know about.
// NUMERIC and DECIMAL arrive as pgtype.Numeric and are read as float64.
func driverValue(v any) (any, error) {
	n, ok := v.(pgtype.Numeric)
	if !ok {
		return v, nil
	}
	if !n.Valid {
		return nil, nil
	}
	f, err := n.Float64Value()
	if err != nil {
		return nil, fmt.Errorf("postgres: numeric to float: %w", err)
	}
	if !f.Valid {
		return nil, nil
	}
	return f.Float64, nil
}
