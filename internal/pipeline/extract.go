package pipeline

import (
	"context"
	"fmt"
	"log"

	"residuals/internal/dataframe"
	"residuals/internal/records"
	"residuals/internal/schema"
	"residuals/internal/staging"
	"residuals/internal/warehouse"
)

// InputConfig holds the warehouse coordinates of the source table. The
// staging location is the store passed alongside it.
type InputConfig struct {
	Project string
	Dataset string
	Table   string
}

// Ref returns the table reference for in.
func (in InputConfig) Ref() warehouse.TableRef {
	return warehouse.TableRef{Project: in.Project, Dataset: in.Dataset, Table: in.Table}
}

// Extract exports the source table into st and returns it as a lazily
// evaluated collection with one partition per staged shard, typed by the
// table's live schema.
func Extract(ctx context.Context, engine dataframe.Engine, wh warehouse.Warehouse, st staging.Store, in InputConfig) (dataframe.Collection, error) {
	ref := in.Ref()
	fail := func(err error) error { return &ExtractionError{Table: ref, Location: st.URL(), Err: err} }

	if err := ref.Validate(); err != nil {
		return nil, fail(err)
	}
	if err := st.CheckWritable(ctx); err != nil {
		return nil, fail(err)
	}

	m, err := wh.BulkRead(ctx, ref, st)
	if err != nil {
		return nil, fail(err)
	}

	c, err := engine.Read(ctx, NewManifestSource(st, m))
	if err != nil {
		return nil, fail(err)
	}
	log.Printf("extract: table=%s rows=%d shards=%d staging=%s", ref, m.Rows(), len(m.Shards), st.URL())
	return c, nil
}

// NewManifestSource returns a dataframe.Source over the shards listed in m.
func NewManifestSource(st staging.Store, m staging.Manifest) dataframe.Source {
	return &manifestSource{store: st, manifest: m}
}

type manifestSource struct {
	store    staging.Store
	manifest staging.Manifest
}

func (s *manifestSource) Analyze(ctx context.Context) (schema.Schema, []dataframe.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	parts := make([]dataframe.Partition, len(s.manifest.Shards))
	for i, sh := range s.manifest.Shards {
		parts[i] = shardPartition{store: s.store, info: sh, schema: s.manifest.Schema}
	}
	return s.manifest.Schema, parts, nil
}

// shardPartition reads one staged shard. Every Load re-reads and
// re-verifies the shard.
type shardPartition struct {
	store  staging.Store
	info   staging.ShardInfo
	schema schema.Schema
}

func (p shardPartition) Load(ctx context.Context) ([]records.Record, error) {
	return staging.ReadShard(ctx, p.store, p.info, p.schema)
}

func (p shardPartition) String() string {
	return fmt.Sprintf("%s/%s", p.store.URL(), p.info.Name)
}
