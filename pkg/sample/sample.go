// Package sample draws random row subsets of a file into a new file of the
// same container format.
package sample

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/formats"
	"github.com/ajitpratap0/datatoolset/pkg/schema"
	"github.com/ajitpratap0/datatoolset/pkg/table"
)

// second PCG stream word, so the sync marker is independent of the draws
const syncStream = 0x9e3779b97f4a7c15

// Options configures Sample. Exactly one of N and Fraction must be set.
type Options struct {
	N               *int
	Fraction        *float64
	WithReplacement bool
	// Shuffle keeps the sampling order instead of restoring source order
	Shuffle bool
	// Seed makes the selection and the output bytes reproducible
	Seed *uint64
	// Codec overrides the input file's codec for the output
	Codec schema.Codec
}

// Result reports the outcome of Sample
type Result struct {
	Path       string `json:"path"`
	Rows       int64  `json:"rows"`
	SourceRows int64  `json:"source_rows"`
	Seed       uint64 `json:"seed"`
	Codec      string `json:"codec"`
}

// Validate checks the option combination. It performs no I/O.
func (o Options) Validate() error {
	switch {
	case o.N == nil && o.Fraction == nil:
		return errors.New(errors.ErrorTypeConfig, "one of n or fraction is required")
	case o.N != nil && o.Fraction != nil:
		return errors.New(errors.ErrorTypeConfig, "n and fraction are mutually exclusive")
	case o.N != nil && *o.N < 0:
		return errors.Newf(errors.ErrorTypeConfig, "n must not be negative, got %d", *o.N)
	case o.Fraction != nil && (math.IsNaN(*o.Fraction) || *o.Fraction < 0 || *o.Fraction > 1):
		return errors.Newf(errors.ErrorTypeConfig, "fraction must be between 0.0 and 1.0, got %v", *o.Fraction)
	}
	return nil
}

// size resolves the number of rows to draw from a file of rows rows
func (o Options) size(rows int64) (int64, error) {
	if o.Fraction != nil {
		return int64(math.Floor(*o.Fraction * float64(rows))), nil
	}
	k := int64(*o.N)
	if k > 0 && rows == 0 {
		return 0, errors.Newf(errors.ErrorTypeConfig, "cannot take a sample of %d rows from an empty file", k)
	}
	if k > rows && !o.WithReplacement {
		return 0, errors.Newf(errors.ErrorTypeConfig,
			"cannot take a sample of %d rows from %d rows without replacement", k, rows)
	}
	return k, nil
}

// Indices draws k row indices out of rows. Without replacement it runs a
// partial Fisher-Yates shuffle; with replacement it draws k uniform indices.
// The result is in source order unless shuffle is set.
func Indices(rng *rand.Rand, rows, k int64, withReplacement, shuffle bool) []int64 {
	var out []int64
	if withReplacement {
		out = make([]int64, k)
		if rows > 0 {
			for i := range out {
				out[i] = rng.Int64N(rows)
			}
		}
	} else {
		perm := make([]int64, rows)
		for i := range perm {
			perm[i] = int64(i)
		}
		for i := int64(0); i < k; i++ {
			j := i + rng.Int64N(rows-i)
			perm[i], perm[j] = perm[j], perm[i]
		}
		out = perm[:k]
	}
	if !shuffle {
		slices.Sort(out)
	}
	return out
}

// Sample writes a random subset of path's rows to out with the same adapter
func Sample(ctx context.Context, adapter formats.Adapter, path, out string, opts Options, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Codec != "" {
		if _, err := schema.ParseCodec(adapter.Format(), string(opts.Codec)); err != nil {
			return nil, err
		}
	}

	seed := rand.Uint64()
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	meta, err := adapter.ExtractMetadata(ctx, path)
	if err != nil {
		return nil, err
	}
	rows, err := adapter.Count(ctx, path)
	if err != nil {
		return nil, err
	}
	k, err := opts.size(rows)
	if err != nil {
		return nil, err
	}

	codec := opts.Codec
	if codec == "" {
		codec = writableOr(adapter.Format(), meta.Codec)
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	idx := Indices(rng, rows, k, opts.WithReplacement, opts.Shuffle)

	tbl, err := adapter.ToTable(ctx, path)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()

	sampled, err := Take(ctx, tbl, idx)
	if err != nil {
		return nil, err
	}
	defer sampled.Release()

	wr, err := adapter.WriteTable(ctx, sampled, out, formats.WriteOptions{
		Codec:      codec,
		SyncMarker: syncMarker(seed),
		Metadata:   meta.KeyValue,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("sampled file",
		zap.String("input", path),
		zap.String("output", out),
		zap.Int64("source_rows", rows),
		zap.Int64("rows", wr.Rows),
		zap.Uint64("seed", seed))
	return &Result{Path: out, Rows: wr.Rows, SourceRows: rows, Seed: seed, Codec: wr.Codec}, nil
}

// Take gathers rows idx of tbl, in idx order, into a new table
func Take(ctx context.Context, tbl arrow.Table, idx []int64) (arrow.Table, error) {
	ib := array.NewInt64Builder(table.Allocator)
	defer ib.Release()
	ib.AppendValues(idx, nil)
	indices := ib.NewArray()
	defer indices.Release()

	if tbl.NumRows() == 0 || len(idx) == 0 {
		return table.Slice(tbl, 0, 0), nil
	}

	values := compute.NewDatum(tbl)
	defer values.Release()
	ids := compute.NewDatum(indices)
	defer ids.Release()

	res, err := compute.Take(ctx, *compute.DefaultTakeOptions(), values, ids)
	if stderrors.Is(err, arrow.ErrNotImplemented) {
		return takeBySlices(tbl, idx)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to gather sampled rows")
	}
	td, ok := res.(*compute.TableDatum)
	if !ok {
		res.Release()
		return nil, errors.Newf(errors.ErrorTypeInternal, "unexpected take result %s", res)
	}
	return td.Value, nil
}

// takeBySlices gathers one-row slices for column types the take kernels
// do not cover, such as maps
func takeBySlices(tbl arrow.Table, idx []int64) (arrow.Table, error) {
	parts := make([]arrow.Table, 0, len(idx))
	defer func() {
		for _, p := range parts {
			p.Release()
		}
	}()
	for _, i := range idx {
		parts = append(parts, table.Slice(tbl, i, 1))
	}

	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	for _, p := range parts {
		recs = append(recs, table.Records(p, 0)...)
	}
	return table.FromRecords(tbl.Schema(), recs), nil
}

// syncMarker derives a 16-byte container sync marker from seed
func syncMarker(seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, syncStream))
	marker := make([]byte, 16)
	binary.LittleEndian.PutUint64(marker[:8], rng.Uint64())
	binary.LittleEndian.PutUint64(marker[8:], rng.Uint64())
	return marker
}

// writableOr keeps c when f can write it, else falls back to uncompressed
func writableOr(f schema.Format, c schema.Codec) schema.Codec {
	if slices.Contains(schema.WritableCodecs(f), c) {
		return c
	}
	return schema.CodecUncompressed
}
