package sample_test

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/formats"
	"github.com/ajitpratap0/datatoolset/pkg/sample"
	"github.com/ajitpratap0/datatoolset/pkg/table"
	"github.com/ajitpratap0/datatoolset/pkg/testutil"
)

func ptr[T any](v T) *T { return &v }

func ids(t *testing.T, adapter formats.Adapter, path string) []int64 {
	t.Helper()
	tbl, err := adapter.ToTable(testutil.TestContext(t), path)
	require.NoError(t, err)
	defer tbl.Release()

	var out []int64
	require.NoError(t, table.ForEachRow(tbl, func(r map[string]any) error {
		out = append(out, r["id"].(int64))
		return nil
	}))
	return out
}

func fixtures(t *testing.T) map[string]struct {
	adapter formats.Adapter
	path    string
} {
	dir := t.TempDir()
	return map[string]struct {
		adapter formats.Adapter
		path    string
	}{
		"avro":    {formats.NewAvroAdapter(nil), testutil.WriteSequenceAvro(t, dir, "seq.avro", 0, 50)},
		"parquet": {formats.NewParquetAdapter(nil), testutil.WriteSequenceParquet(t, dir, "seq.parquet", 50, 16)},
	}
}

func TestSampleIsReproducible(t *testing.T) {
	ctx := testutil.TestContext(t)

	for name, fx := range fixtures(t) {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			opts := sample.Options{N: ptr(10), Seed: ptr(uint64(42))}

			first := filepath.Join(dir, "one."+name)
			second := filepath.Join(dir, "two."+name)
			res, err := sample.Sample(ctx, fx.adapter, fx.path, first, opts, testutil.TestLogger(t))
			require.NoError(t, err)
			assert.Equal(t, int64(10), res.Rows)
			assert.Equal(t, int64(50), res.SourceRows)
			assert.Equal(t, uint64(42), res.Seed)
			_, err = sample.Sample(ctx, fx.adapter, fx.path, second, opts, nil)
			require.NoError(t, err)

			a, err := os.ReadFile(first)
			require.NoError(t, err)
			b, err := os.ReadFile(second)
			require.NoError(t, err)
			assert.Equal(t, a, b)

			got := ids(t, fx.adapter, first)
			assert.Len(t, got, 10)
			assert.True(t, slices.IsSorted(got), "source order kept without shuffle")
			assert.Len(t, slices.Compact(slices.Clone(got)), 10, "no duplicates without replacement")
		})
	}
}

func TestSampleFraction(t *testing.T) {
	ctx := testutil.TestContext(t)

	for name, fx := range fixtures(t) {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "frac."+name)
			res, err := sample.Sample(ctx, fx.adapter, fx.path, out, sample.Options{Fraction: ptr(0.25)}, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(12), res.Rows)

			n, err := fx.adapter.Count(ctx, out)
			require.NoError(t, err)
			assert.Equal(t, int64(12), n)
		})
	}
}

func TestSampleWithReplacementMayExceedRows(t *testing.T) {
	ctx := testutil.TestContext(t)
	path := testutil.WriteSequenceAvro(t, t.TempDir(), "small.avro", 0, 3)
	out := filepath.Join(t.TempDir(), "big.avro")

	res, err := sample.Sample(ctx, formats.NewAvroAdapter(nil), path, out,
		sample.Options{N: ptr(20), WithReplacement: true, Seed: ptr(uint64(7))}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.Rows)

	for _, id := range ids(t, formats.NewAvroAdapter(nil), out) {
		assert.True(t, id >= 0 && id < 3)
	}
}

func TestSampleKeepsSchemaAndNestedColumns(t *testing.T) {
	ctx := testutil.TestContext(t)
	dir := t.TempDir()

	for name, fx := range map[string]struct {
		adapter formats.Adapter
		path    string
	}{
		"avro":    {formats.NewAvroAdapter(nil), testutil.WriteCharactersAvro(t, dir)},
		"parquet": {formats.NewParquetAdapter(nil), testutil.WriteCharactersParquet(t, dir)},
	} {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "s."+name)
			_, err := sample.Sample(ctx, fx.adapter, fx.path, out,
				sample.Options{N: ptr(2), Shuffle: true, Seed: ptr(uint64(1))}, nil)
			require.NoError(t, err)

			src, err := fx.adapter.Head(ctx, fx.path, 0)
			require.NoError(t, err)
			defer src.Release()
			got, err := fx.adapter.ToTable(ctx, out)
			require.NoError(t, err)
			defer got.Release()

			assert.Equal(t, int64(2), got.NumRows())
			require.Equal(t, src.Schema().NumFields(), got.Schema().NumFields())
			for i, f := range src.Schema().Fields() {
				assert.Equal(t, f.Name, got.Schema().Field(i).Name)
				assert.True(t, arrow.TypeEqual(f.Type, got.Schema().Field(i).Type), f.Name)
			}
		})
	}
}

func TestSampleConfigErrors(t *testing.T) {
	ctx := testutil.TestContext(t)
	dir := t.TempDir()
	path := testutil.WriteSequenceAvro(t, dir, "seq.avro", 0, 5)
	empty := testutil.WriteSequenceAvro(t, dir, "empty.avro", 0, 0)

	tests := []struct {
		name string
		path string
		opts sample.Options
	}{
		{"neither", path, sample.Options{}},
		{"both", path, sample.Options{N: ptr(1), Fraction: ptr(0.5)}},
		{"negative n", path, sample.Options{N: ptr(-1)}},
		{"fraction above one", path, sample.Options{Fraction: ptr(1.5)}},
		{"oversample without replacement", path, sample.Options{N: ptr(6)}},
		{"replacement from empty", empty, sample.Options{N: ptr(1), WithReplacement: true}},
		{"codec not writable", path, sample.Options{N: ptr(1), Codec: "zstd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out.avro")
			_, err := sample.Sample(ctx, formats.NewAvroAdapter(nil), tt.path, out, tt.opts, nil)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), err.Error())
			assert.NoFileExists(t, out)
		})
	}
}

func TestIndices(t *testing.T) {
	rng := func() *rand.Rand { return rand.New(rand.NewPCG(3, 3)) }

	all := sample.Indices(rng(), 10, 10, false, false)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, all)

	shuffled := sample.Indices(rng(), 10, 10, false, true)
	assert.ElementsMatch(t, all, shuffled)

	assert.Equal(t, sample.Indices(rng(), 100, 5, true, true), sample.Indices(rng(), 100, 5, true, true))
	assert.Empty(t, sample.Indices(rng(), 10, 0, false, false))
}

func TestTakeKeepsRequestedOrder(t *testing.T) {
	ctx := testutil.TestContext(t)
	rec := testutil.SequenceRecord(6)
	defer rec.Release()
	tbl := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()

	got, err := sample.Take(ctx, tbl, []int64{5, 0, 5, 2})
	require.NoError(t, err)
	defer got.Release()

	var out []int64
	require.NoError(t, table.ForEachRow(got, func(r map[string]any) error {
		out = append(out, r["id"].(int64))
		return nil
	}))
	assert.Equal(t, []int64{5, 0, 5, 2}, out)
}
