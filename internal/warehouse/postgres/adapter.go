package postgres

import (
	"context"

	"residuals/internal/warehouse"
)

// newWarehouse is a test hook that points to NewWarehouse by default.
// Tests may replace this variable to avoid real DB connections.
var newWarehouse = NewWarehouse

func init() {
	warehouse.Register("postgres", func(ctx context.Context, cfg warehouse.Config) (warehouse.Warehouse, error) {
		w, err := newWarehouse(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}
