package staging

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"

	"residuals/internal/records"
	"residuals/internal/schema"
)

// ManifestName is the object name of the manifest inside a location.
const ManifestName = "manifest.json"

const manifestVersion = 1

// Manifest is the index of a completed staging location.
type Manifest struct {
	Version   int           `json:"version"`
	Table     string        `json:"table,omitempty"`
	Schema    schema.Schema `json:"schema"`
	Shards    []ShardInfo   `json:"shards"`
	CreatedAt time.Time     `json:"created_at"`
}

// Rows returns the total row count across shards.
func (m Manifest) Rows() int64 {
	var n int64
	for _, s := range m.Shards {
		n += s.Rows
	}
	return n
}

// WriteManifest stores m. It must be the last object written to a location.
func WriteManifest(ctx context.Context, st Store, m Manifest) error {
	if m.Version == 0 {
		m.Version = manifestVersion
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := m.Schema.Validate(); err != nil {
		return errors.Wrap(err, "staging: manifest")
	}
	w, err := st.Create(ctx, ManifestName)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "staging: encode manifest")
	}
	return errors.Wrap(w.Close(), "staging: close manifest")
}

// ReadManifest loads the manifest of st.
func ReadManifest(ctx context.Context, st Store) (Manifest, error) {
	rc, err := st.Open(ctx, ManifestName)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return Manifest{}, errors.Wrapf(ErrManifestNotFound, "location %s", st.URL())
		}
		return Manifest{}, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return Manifest{}, errors.Wrap(err, "staging: read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, errors.Wrap(err, "staging: decode manifest")
	}
	if m.Version != manifestVersion {
		return Manifest{}, errors.Errorf("staging: unsupported manifest version %d", m.Version)
	}
	if err := m.Schema.Validate(); err != nil {
		return Manifest{}, errors.Wrap(err, "staging: manifest")
	}
	return m, nil
}

// EachShard reads the shards of m in order and hands each decoded batch to
// fn. It stops at the first error.
func EachShard(ctx context.Context, st Store, m Manifest, fn func(ShardInfo, []records.Record) error) error {
	for _, sh := range m.Shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := ReadShard(ctx, st, sh, m.Schema)
		if err != nil {
			return err
		}
		if err := fn(sh, recs); err != nil {
			return err
		}
	}
	return nil
}

// Exporter splits a row stream into shards of at most ShardRows rows and
// writes the manifest on Finish. Warehouse backends use it to implement bulk
// reads.
type Exporter struct {
	Store     Store
	Schema    schema.Schema
	ShardRows int

	cur    *ShardWriter
	curN   int
	shards []ShardInfo
}

// Add appends one record, rotating to a new shard when the current one is
// full.
func (e *Exporter) Add(ctx context.Context, r records.Record) error {
	if e.cur == nil {
		w, err := NewShardWriter(ctx, e.Store, ShardName(len(e.shards)), e.Schema)
		if err != nil {
			return err
		}
		e.cur, e.curN = w, 0
	}
	if err := e.cur.Append(r); err != nil {
		return err
	}
	e.curN++
	limit := e.ShardRows
	if limit <= 0 {
		limit = DefaultShardRows
	}
	if e.curN >= limit {
		return e.rotate()
	}
	return nil
}

func (e *Exporter) rotate() error {
	info, err := e.cur.Close()
	e.cur = nil
	if err != nil {
		return err
	}
	e.shards = append(e.shards, info)
	return nil
}

// Finish closes the open shard and writes the manifest. A stream with no rows
// yields a manifest with no shards.
func (e *Exporter) Finish(ctx context.Context, table string) (Manifest, error) {
	if e.cur != nil {
		if err := e.rotate(); err != nil {
			return Manifest{}, err
		}
	}
	m := Manifest{
		Version:   manifestVersion,
		Table:     table,
		Schema:    e.Schema,
		Shards:    e.shards,
		CreatedAt: time.Now().UTC(),
	}
	if err := WriteManifest(ctx, e.Store, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Abort discards the open shard. Shards already closed stay in the store; the
// missing manifest marks the location incomplete.
func (e *Exporter) Abort() {
	if e.cur != nil {
		e.cur.Abort()
		e.cur = nil
	}
}

// DefaultShardRows is the shard size used when none is configured.
const DefaultShardRows = 10000
