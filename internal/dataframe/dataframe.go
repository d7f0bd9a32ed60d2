// Package dataframe is a small, partitioned, lazily evaluated record
// collection engine.
//
// A Collection is a list of partitions plus a chain of row operations (map,
// filter). Nothing runs until an action (ForEachPartition, Collect, Count,
// Aggregate) is called; the action loads every partition, applies the chain,
// and hands the result to the caller. Partitions are processed concurrently,
// bounded by the engine's parallelism, and the first error cancels the rest.
//
// The pipeline depends only on the Engine and Collection interfaces, so a
// different substrate (worker processes, a cluster) can be dropped in.
package dataframe

import (
	"context"
	"fmt"

	"residuals/internal/records"
	"residuals/internal/schema"
)

// Partition loads one slice of a collection's rows. Load may be called more
// than once (once per action) and must return the same rows each time.
type Partition interface {
	Load(ctx context.Context) ([]records.Record, error)
	String() string
}

// Source describes how to load a dataset as partitions.
type Source interface {
	// Analyze returns the dataset schema and its partitions. It must not load
	// row data.
	Analyze(ctx context.Context) (schema.Schema, []Partition, error)
}

// MapFunc transforms one row. It must not mutate its argument.
type MapFunc func(r records.Record) (records.Record, error)

// FilterFunc reports whether a row is retained.
type FilterFunc func(r records.Record) (bool, error)

// PartitionFunc processes the fully transformed rows of partition idx.
type PartitionFunc func(ctx context.Context, idx int, recs []records.Record) error

// Collection is an immutable, lazily evaluated set of rows. Row order across
// partitions is not defined.
type Collection interface {
	Schema() schema.Schema
	NumPartitions() int

	// Map returns a collection whose rows are fn(row) with schema out.
	Map(fn MapFunc, out schema.Schema) Collection
	// Filter returns a collection holding the rows for which fn is true.
	Filter(fn FilterFunc) Collection

	// ForEachPartition evaluates the collection and calls fn once per
	// partition, concurrently.
	ForEachPartition(ctx context.Context, fn PartitionFunc) error
	// Collect materializes every row in memory.
	Collect(ctx context.Context) ([]records.Record, error)
	// Count evaluates the collection and returns its row count.
	Count(ctx context.Context) (int64, error)
}

// Engine creates collections from sources.
type Engine interface {
	Read(ctx context.Context, src Source) (Collection, error)
}

// Aggregate folds every row into an accumulator. seq runs per partition on
// a fresh zero(); partial results are merged with comb in partition order.
func Aggregate[A any](
	ctx context.Context,
	c Collection,
	zero func() A,
	seq func(acc A, r records.Record) (A, error),
	comb func(a, b A) A,
) (A, error) {
	partials := make([]A, c.NumPartitions())
	err := c.ForEachPartition(ctx, func(_ context.Context, idx int, recs []records.Record) error {
		acc := zero()
		for i, r := range recs {
			var err error
			if acc, err = seq(acc, r); err != nil {
				return fmt.Errorf("aggregate: partition %d row %d: %w", idx, i, err)
			}
		}
		partials[idx] = acc
		return nil
	})
	if err != nil {
		var empty A
		return empty, err
	}
	out := zero()
	for _, p := range partials {
		out = comb(out, p)
	}
	return out, nil
}
