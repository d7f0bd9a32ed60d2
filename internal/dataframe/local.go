package dataframe

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"residuals/internal/records"
	"residuals/internal/schema"
)

// LocalEngine runs collections on an in-process goroutine pool.
type LocalEngine struct {
	// Parallelism bounds how many partitions are processed at once. Zero
	// means GOMAXPROCS.
	Parallelism int
}

// NewLocalEngine returns a LocalEngine with the given parallelism.
func NewLocalEngine(parallelism int) *LocalEngine {
	return &LocalEngine{Parallelism: parallelism}
}

func (e *LocalEngine) limit() int {
	if e == nil || e.Parallelism <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return e.Parallelism
}

// Read analyzes src and returns a lazy collection over its partitions.
func (e *LocalEngine) Read(ctx context.Context, src Source) (Collection, error) {
	s, parts, err := src.Analyze(ctx)
	if err != nil {
		return nil, fmt.Errorf("dataframe: analyze source: %w", err)
	}
	return &frame{engine: e, schema: s, parts: parts}, nil
}

// FromRecords builds a collection from in-memory rows split into n
// partitions of near-equal size.
func (e *LocalEngine) FromRecords(s schema.Schema, recs []records.Record, n int) Collection {
	if n <= 0 {
		n = 1
	}
	per := (len(recs) + n - 1) / n
	parts := make([]Partition, 0, n)
	for i := 0; i < n; i++ {
		start := i * per
		end := min(start+per, len(recs))
		if start >= end {
			// keep empty partitions so n is honored; they cost nothing
			parts = append(parts, memPartition{name: fmt.Sprintf("mem-%d", i)})
			continue
		}
		parts = append(parts, memPartition{name: fmt.Sprintf("mem-%d", i), recs: recs[start:end]})
	}
	return &frame{engine: e, schema: s, parts: parts}
}

type memPartition struct {
	name string
	recs []records.Record
}

func (p memPartition) Load(context.Context) ([]records.Record, error) { return p.recs, nil }
func (p memPartition) String() string                                   { return p.name }

// op is one step of a frame's row chain; exactly one field is set.
type op struct {
	mapFn    MapFunc
	filterFn FilterFunc
}

type frame struct {
	engine *LocalEngine
	schema schema.Schema
	parts  []Partition
	ops    []op
}

func (f *frame) Schema() schema.Schema { return f.schema }
func (f *frame) NumPartitions() int    { return len(f.parts) }

func (f *frame) with(o op, s schema.Schema) *frame {
	ops := make([]op, len(f.ops), len(f.ops)+1)
	copy(ops, f.ops)
	return &frame{engine: f.engine, schema: s, parts: f.parts, ops: append(ops, o)}
}

func (f *frame) Map(fn MapFunc, out schema.Schema) Collection {
	return f.with(op{mapFn: fn}, out)
}

func (f *frame) Filter(fn FilterFunc) Collection {
	return f.with(op{filterFn: fn}, f.schema)
}

// apply runs the op chain over one partition's rows.
func (f *frame) apply(in []records.Record) ([]records.Record, error) {
	if len(f.ops) == 0 {
		return in, nil
	}
	out := make([]records.Record, 0, len(in))
rows:
	for i, r := range in {
		for _, o := range f.ops {
			switch {
			case o.filterFn != nil:
				keep, err := o.filterFn(r)
				if err != nil {
					return nil, fmt.Errorf("filter row %d: %w", i, err)
				}
				if !keep {
					continue rows
				}
			case o.mapFn != nil:
				m, err := o.mapFn(r)
				if err != nil {
					return nil, fmt.Errorf("map row %d: %w", i, err)
				}
				r = m
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *frame) ForEachPartition(ctx context.Context, fn PartitionFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.engine.limit())
	for i, p := range f.parts {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw, err := p.Load(gctx)
			if err != nil {
				return fmt.Errorf("dataframe: load partition %d (%s): %w", i, p, err)
			}
			recs, err := f.apply(raw)
			if err != nil {
				return fmt.Errorf("dataframe: partition %d (%s): %w", i, p, err)
			}
			return fn(gctx, i, recs)
		})
	}
	return g.Wait()
}

func (f *frame) Collect(ctx context.Context) ([]records.Record, error) {
	parts := make([][]records.Record, len(f.parts))
	err := f.ForEachPartition(ctx, func(_ context.Context, idx int, recs []records.Record) error {
		parts[idx] = recs
		return nil
	})
	if err != nil {
		return nil, err
	}
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]records.Record, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

func (f *frame) Count(ctx context.Context) (int64, error) {
	var n atomic.Int64
	err := f.ForEachPartition(ctx, func(_ context.Context, _ int, recs []records.Record) error {
		n.Add(int64(len(recs)))
		return nil
	})
	return n.Load(), err
}
