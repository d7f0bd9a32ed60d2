// Package ddl defines a small, backend-agnostic model for SQL DDL and renders
// CREATE TABLE statements from it.
//
// Backends supply a Dialect that knows how to quote identifiers and which SQL
// type stores each schema.Type; everything else (column order, NOT NULL
// placement, validation) is shared.
package ddl

import (
	"fmt"
	"strings"

	"residuals/internal/schema"
)

// ColumnDef describes a single column in a table definition.
//
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - SQLType: target SQL type (e.g., DOUBLE PRECISION, BIGINT, TEXT)
//   - Nullable: whether NULL is allowed
type ColumnDef struct {
	Name     string
	SQLType  string
	Nullable bool
}

// TableDef holds the table name parts (already split: schema, table or just
// table) and an ordered list of columns.
type TableDef struct {
	Name    []string
	Columns []ColumnDef
}

// Dialect is the per-backend rendering policy.
type Dialect interface {
	// QuoteIdent quotes a single identifier segment.
	QuoteIdent(id string) string
	// ColumnType maps a schema type onto the backend's SQL column type.
	ColumnType(t schema.Type) string
}

// FromSchema builds a TableDef for s using d's type mapping.
func FromSchema(name []string, s schema.Schema, d Dialect) TableDef {
	cols := make([]ColumnDef, len(s))
	for i, c := range s {
		cols[i] = ColumnDef{
			Name:     c.Name,
			SQLType:  d.ColumnType(c.Type),
			Nullable: !c.Required,
		}
	}
	return TableDef{Name: name, Columns: cols}
}

// QuoteName quotes and dot-joins the name parts.
func QuoteName(d Dialect, parts []string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, d.QuoteIdent(p))
		}
	}
	return strings.Join(out, ".")
}

// BuildCreateTableSQL renders
//
//	CREATE TABLE <name> (
//	  <col> <type> [NOT NULL],
//	  ...
//	)
//
// There is deliberately no IF NOT EXISTS: callers rely on the statement
// failing when the table is already there.
func BuildCreateTableSQL(d Dialect, t TableDef) (string, error) {
	fqn := QuoteName(d, t.Name)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table name must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(d.QuoteIdent(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		cols = append(cols, sb.String())
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", fqn, strings.Join(cols, ",\n  ")), nil
}

// BuildInsertSQL renders a single-row parameterized INSERT. placeholder
// returns the bind marker for the 1-based argument index ("?", "$1", "@p1").
func BuildInsertSQL(d Dialect, name []string, columns []string, placeholder func(int) string) string {
	return BuildMultiInsertSQL(d, name, columns, 1, placeholder)
}

// BuildMultiInsertSQL renders an INSERT with rows value tuples.
func BuildMultiInsertSQL(d Dialect, name []string, columns []string, rows int, placeholder func(int) string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdent(c)
	}
	tuples := make([]string, rows)
	n := 0
	for r := 0; r < rows; r++ {
		ph := make([]string, len(columns))
		for i := range ph {
			n++
			ph[i] = placeholder(n)
		}
		tuples[r] = "(" + strings.Join(ph, ", ") + ")"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		QuoteName(d, name), strings.Join(quoted, ", "), strings.Join(tuples, ", "))
}

// BuildSelectSQL renders SELECT <cols> FROM <name>.
func BuildSelectSQL(d Dialect, name []string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdent(c)
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), QuoteName(d, name))
}

// DoubleQuote quotes id ANSI-style: "id" with embedded quotes doubled.
func DoubleQuote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
