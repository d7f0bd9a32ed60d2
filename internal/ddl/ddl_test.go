package ddl

import (
	"strconv"
	"strings"
	"testing"

	"residuals/internal/schema"
)

// ansi is a test dialect: double-quoted identifiers, canonical type names.
type ansi struct{}

func (ansi) QuoteIdent(id string) string { return DoubleQuote(id) }
func (ansi) ColumnType(t schema.Type) string {
	return strings.ToUpper(string(t))
}

// TestBuildCreateTableSQL validates SQL generation using table-driven checks
// for both happy paths and error paths.
func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		in        TableDef
		wantSQL   string
		wantError string
	}{
		{
			name:      "error_missing_table_name",
			in:        TableDef{Columns: []ColumnDef{{Name: "id", SQLType: "INTEGER"}}},
			wantError: "table name must not be empty",
		},
		{
			name:      "error_no_columns",
			in:        TableDef{Name: []string{"t"}},
			wantError: "at least one column",
		},
		{
			name:      "error_missing_type",
			in:        TableDef{Name: []string{"t"}, Columns: []ColumnDef{{Name: "x"}}},
			wantError: "missing SQLType",
		},
		{
			name: "qualified_name_with_escaping",
			in: TableDef{
				Name: []string{"ds", `we"ird`},
				Columns: []ColumnDef{
					{Name: "weight_pounds", SQLType: "DOUBLE PRECISION", Nullable: false},
					{Name: "mother_age", SQLType: "BIGINT", Nullable: true},
				},
			},
			wantSQL: "CREATE TABLE \"ds\".\"we\"\"ird\" (\n" +
				"  \"weight_pounds\" DOUBLE PRECISION NOT NULL,\n" +
				"  \"mother_age\" BIGINT\n" +
				")",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := BuildCreateTableSQL(ansi{}, tc.in)
			if tc.wantError != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantError) {
					t.Fatalf("err = %v, want substring %q", err, tc.wantError)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.wantSQL {
				t.Fatalf("SQL mismatch:\n got: %q\nwant: %q", got, tc.wantSQL)
			}
		})
	}
}

func TestFromSchema(t *testing.T) {
	t.Parallel()
	s := schema.Schema{
		{Name: "residual", Type: schema.Float, Required: true},
		{Name: "is_male", Type: schema.Boolean},
	}
	td := FromSchema([]string{"ds", "out"}, s, ansi{})
	want := []ColumnDef{
		{Name: "residual", SQLType: "FLOAT", Nullable: false},
		{Name: "is_male", SQLType: "BOOLEAN", Nullable: true},
	}
	if len(td.Columns) != len(want) {
		t.Fatalf("columns = %+v", td.Columns)
	}
	for i := range want {
		if td.Columns[i] != want[i] {
			t.Errorf("column %d = %+v, want %+v", i, td.Columns[i], want[i])
		}
	}
}

func TestInsertAndSelect(t *testing.T) {
	t.Parallel()
	dollar := func(i int) string { return "$" + strconv.Itoa(i) }

	if got, want := BuildInsertSQL(ansi{}, []string{"t"}, []string{"a", "b"}, dollar),
		`INSERT INTO "t" ("a", "b") VALUES ($1, $2)`; got != want {
		t.Errorf("insert = %q, want %q", got, want)
	}
	if got, want := BuildMultiInsertSQL(ansi{}, []string{"s", "t"}, []string{"a"}, 3, dollar),
		`INSERT INTO "s"."t" ("a") VALUES ($1), ($2), ($3)`; got != want {
		t.Errorf("multi insert = %q, want %q", got, want)
	}
	if got, want := BuildSelectSQL(ansi{}, []string{"s", "t"}, []string{"x", "y"}),
		`SELECT "x", "y" FROM "s"."t"`; got != want {
		t.Errorf("select = %q, want %q", got, want)
	}
	if got := QuoteName(ansi{}, []string{" ", "t"}); got != `"t"` {
		t.Errorf("QuoteName skipped blanks = %q", got)
	}
}
