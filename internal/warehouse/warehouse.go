// Package warehouse defines the backend-agnostic contract for the analytical
// warehouse the job reads from and writes to, plus a small factory registry
// that concrete backends populate at init time.
//
// A warehouse is organized as project → dataset → table. Bulk data never
// flows through this interface row by row: BulkRead exports a table into a
// staging location and BulkWrite loads a staging location into a new table,
// mirroring the extract/load job model of managed warehouses.
package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"residuals/internal/schema"
	"residuals/internal/staging"
)

var (
	// ErrTableNotFound is returned when a referenced table does not exist.
	ErrTableNotFound = errors.New("warehouse: table not found")
	// ErrTableExists is returned when a table that must be new already exists.
	ErrTableExists = errors.New("warehouse: table already exists")
	// ErrSchemaMismatch is returned when an existing table's schema differs
	// from the requested one.
	ErrSchemaMismatch = errors.New("warehouse: schema mismatch")
	// ErrProjectMismatch is returned when a TableRef names a project other
	// than the one the warehouse client is bound to.
	ErrProjectMismatch = errors.New("warehouse: project mismatch")
)

// TableRef identifies a table. Project may be empty, meaning the project the
// client is bound to.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// ParseTableRef parses "dataset.table" or "project.dataset.table".
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	var ref TableRef
	switch len(parts) {
	case 2:
		ref = TableRef{Dataset: parts[0], Table: parts[1]}
	case 3:
		ref = TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}
	default:
		return TableRef{}, fmt.Errorf("warehouse: invalid table reference %q", s)
	}
	return ref, ref.Validate()
}

// Validate checks that dataset and table are valid identifiers.
func (r TableRef) Validate() error {
	if !schema.ValidIdent(r.Dataset) {
		return fmt.Errorf("warehouse: invalid dataset name %q", r.Dataset)
	}
	if !schema.ValidIdent(r.Table) {
		return fmt.Errorf("warehouse: invalid table name %q", r.Table)
	}
	return nil
}

func (r TableRef) String() string {
	if r.Project != "" {
		return r.Project + "." + r.Dataset + "." + r.Table
	}
	return r.Dataset + "." + r.Table
}

// WithTable returns a copy of r naming table in the same dataset.
func (r TableRef) WithTable(table string) TableRef {
	r.Table = table
	return r
}

// CheckRef validates ref and verifies that it belongs to project.
func CheckRef(project string, ref TableRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if ref.Project != "" && project != "" && ref.Project != project {
		return errors.Wrapf(ErrProjectMismatch, "table %s, client project %q", ref, project)
	}
	return nil
}

// Warehouse is implemented by every backend. Implementations must be safe
// for concurrent use.
type Warehouse interface {
	// Kind returns the registered backend kind, e.g. "postgres".
	Kind() string

	// TableExists reports whether ref exists.
	TableExists(ctx context.Context, ref TableRef) (bool, error)

	// CreateTable creates ref with schema s, creating the dataset if needed.
	// It returns ErrTableExists when ref is already present.
	CreateTable(ctx context.Context, ref TableRef, s schema.Schema) error

	// DescribeTable returns the schema of ref or ErrTableNotFound.
	DescribeTable(ctx context.Context, ref TableRef) (schema.Schema, error)

	// BulkRead exports every row of ref into st as sharded Avro plus a
	// manifest.
	BulkRead(ctx context.Context, ref TableRef, st staging.Store) (staging.Manifest, error)

	// BulkWrite creates ref from the manifest and shards in st. The load is
	// all-or-nothing: on error no table named ref is left behind. It returns
	// ErrTableExists when ref is already present.
	BulkWrite(ctx context.Context, ref TableRef, st staging.Store) (int64, error)

	Close() error
}
