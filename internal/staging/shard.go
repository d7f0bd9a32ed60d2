package staging

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/linkedin/goavro/v2"
	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	"residuals/internal/records"
	"residuals/internal/schema"
)

// blockRows is the number of rows buffered per Avro block.
const blockRows = 512

// ShardInfo describes one staged shard.
type ShardInfo struct {
	Name     string `json:"name"`
	Rows     int64  `json:"rows"`
	Checksum string `json:"checksum"` // xxh3-64 of the file bytes, hex
}

// ShardName returns the canonical shard object name for index i.
func ShardName(i int) string { return fmt.Sprintf("part-%05d.avro", i) }

// ShardWriter streams records into one Avro shard.
type ShardWriter struct {
	name   string
	schema schema.Schema
	dst    io.WriteCloser
	hash   *xxh3.Hasher
	ocf    *goavro.OCFWriter
	block  []any
	rows   int64
	closed bool
}

// NewShardWriter creates name in st and prepares it for rows of s.
func NewShardWriter(ctx context.Context, st Store, name string, s schema.Schema) (*ShardWriter, error) {
	codec, err := NewCodec(s)
	if err != nil {
		return nil, err
	}
	dst, err := st.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	h := xxh3.New()
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               io.MultiWriter(dst, h),
		Codec:           codec,
		CompressionName: goavro.CompressionSnappyLabel,
	})
	if err != nil {
		_ = dst.Close()
		return nil, errors.Wrapf(err, "staging: ocf writer %s", name)
	}
	return &ShardWriter{
		name:   name,
		schema: s,
		dst:    dst,
		hash:   h,
		ocf:    ocf,
		block:  make([]any, 0, blockRows),
	}, nil
}

// Append adds one record.
func (w *ShardWriter) Append(r records.Record) error {
	n, err := toNative(w.schema, r)
	if err != nil {
		return errors.Wrapf(err, "staging: shard %s row %d", w.name, w.rows)
	}
	w.block = append(w.block, n)
	w.rows++
	if len(w.block) >= blockRows {
		return w.flush()
	}
	return nil
}

func (w *ShardWriter) flush() error {
	if len(w.block) == 0 {
		return nil
	}
	if err := w.ocf.Append(w.block); err != nil {
		return errors.Wrapf(err, "staging: append to %s", w.name)
	}
	w.block = w.block[:0]
	return nil
}

// Close flushes buffered rows, closes the object, and returns its manifest
// entry.
func (w *ShardWriter) Close() (ShardInfo, error) {
	if w.closed {
		return ShardInfo{}, errors.Errorf("staging: shard %s already closed", w.name)
	}
	w.closed = true
	ferr := w.flush()
	cerr := w.dst.Close()
	if ferr != nil {
		return ShardInfo{}, ferr
	}
	if cerr != nil {
		return ShardInfo{}, errors.Wrapf(cerr, "staging: close %s", w.name)
	}
	return ShardInfo{
		Name:     w.name,
		Rows:     w.rows,
		Checksum: fmt.Sprintf("%016x", w.hash.Sum64()),
	}, nil
}

// Abort closes the underlying object without producing a manifest entry.
func (w *ShardWriter) Abort() {
	if !w.closed {
		w.closed = true
		_ = w.dst.Close()
	}
}

// WriteShard writes recs as a single shard.
func WriteShard(ctx context.Context, st Store, name string, s schema.Schema, recs []records.Record) (ShardInfo, error) {
	w, err := NewShardWriter(ctx, st, name, s)
	if err != nil {
		return ShardInfo{}, err
	}
	for _, r := range recs {
		if err := w.Append(r); err != nil {
			w.Abort()
			return ShardInfo{}, err
		}
	}
	return w.Close()
}

// ReadShard reads and checksum-verifies a shard, decoding rows against s.
func ReadShard(ctx context.Context, st Store, info ShardInfo, s schema.Schema) ([]records.Record, error) {
	rc, err := st.Open(ctx, info.Name)
	if err != nil {
		return nil, err
	}
	b, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "staging: read %s", info.Name)
	}
	if got := fmt.Sprintf("%016x", xxh3.Hash(b)); got != info.Checksum {
		return nil, errors.Wrapf(ErrChecksumMismatch, "shard %s: got %s want %s", info.Name, got, info.Checksum)
	}

	ocf, err := goavro.NewOCFReader(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrapf(err, "staging: ocf reader %s", info.Name)
	}
	out := make([]records.Record, 0, info.Rows)
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, errors.Wrapf(err, "staging: decode %s", info.Name)
		}
		rec, err := fromNative(s, datum)
		if err != nil {
			return nil, errors.Wrapf(err, "staging: shard %s row %d", info.Name, len(out))
		}
		out = append(out, rec)
	}
	if err := ocf.Err(); err != nil {
		return nil, errors.Wrapf(err, "staging: scan %s", info.Name)
	}
	if int64(len(out)) != info.Rows {
		return nil, errors.Errorf("staging: shard %s has %d rows, manifest says %d", info.Name, len(out), info.Rows)
	}
	return out, nil
}
