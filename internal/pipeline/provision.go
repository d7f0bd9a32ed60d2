package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"residuals/internal/schema"
	"residuals/internal/warehouse"
)

// Provision ensures ref exists with schema s. It succeeds when the table is
// created or already exists with a compatible schema, and returns a
// *ProvisioningError wrapping warehouse.ErrSchemaMismatch when an existing
// table differs. Type aliases in s (bigint, FLOAT64, ...) are canonicalized
// first.
func Provision(ctx context.Context, wh warehouse.Warehouse, ref warehouse.TableRef, s schema.Schema) error {
	fail := func(err error) error { return &ProvisioningError{Table: ref, Err: err} }

	if err := ref.Validate(); err != nil {
		return fail(err)
	}
	s = s.Normalize()
	if err := s.Validate(); err != nil {
		return fail(err)
	}

	exists, err := wh.TableExists(ctx, ref)
	if err != nil {
		return fail(err)
	}
	if !exists {
		err := wh.CreateTable(ctx, ref, s)
		if err == nil {
			log.Printf("provision: created table=%s columns=%d", ref, len(s))
			return nil
		}
		if !errors.Is(err, warehouse.ErrTableExists) {
			return fail(err)
		}
		// Lost a create race; fall through and compare.
		log.Printf("provision: table=%s appeared concurrently", ref)
	}

	live, err := wh.DescribeTable(ctx, ref)
	if err != nil {
		return fail(err)
	}
	if !s.Compatible(live) {
		return fail(fmt.Errorf("%w: %s", warehouse.ErrSchemaMismatch, s.Diff(live)))
	}
	log.Printf("provision: table=%s exists schema=%s", ref, live)
	return nil
}
