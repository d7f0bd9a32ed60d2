package pipeline

import (
	"context"
	"log"

	"residuals/internal/dataframe"
	"residuals/internal/records"
	"residuals/internal/staging"
	"residuals/internal/warehouse"
)

// Load stages c into st and bulk-writes it to the new table ref, returning
// the number of rows loaded. It fails with a *LoadError wrapping
// warehouse.ErrTableExists when ref already exists; a failed load leaves no
// table behind.
func Load(ctx context.Context, wh warehouse.Warehouse, st staging.Store, c dataframe.Collection, ref warehouse.TableRef) (int64, error) {
	fail := func(err error) error { return &LoadError{Table: ref, Location: st.URL(), Err: err} }

	if err := ref.Validate(); err != nil {
		return 0, fail(err)
	}
	exists, err := wh.TableExists(ctx, ref)
	if err != nil {
		return 0, fail(err)
	}
	if exists {
		return 0, fail(warehouse.ErrTableExists)
	}
	if err := st.CheckWritable(ctx); err != nil {
		return 0, fail(err)
	}

	s := c.Schema()
	shards := make([]staging.ShardInfo, c.NumPartitions())
	err = c.ForEachPartition(ctx, func(ctx context.Context, idx int, recs []records.Record) error {
		if len(recs) == 0 {
			return nil
		}
		info, err := staging.WriteShard(ctx, st, staging.ShardName(idx), s, recs)
		if err != nil {
			return err
		}
		shards[idx] = info
		return nil
	})
	if err != nil {
		return 0, fail(err)
	}

	m := staging.Manifest{Table: ref.String(), Schema: s}
	for _, sh := range shards {
		if sh.Name != "" {
			m.Shards = append(m.Shards, sh)
		}
	}
	if err := staging.WriteManifest(ctx, st, m); err != nil {
		return 0, fail(err)
	}
	log.Printf("load: staged rows=%d shards=%d staging=%s", m.Rows(), len(m.Shards), st.URL())

	n, err := wh.BulkWrite(ctx, ref, st)
	if err != nil {
		return 0, fail(err)
	}
	log.Printf("load: table=%s rows=%d", ref, n)
	return n, nil
}
