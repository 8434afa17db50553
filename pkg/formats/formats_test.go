package formats_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/formats"
	"github.com/ajitpratap0/datatoolset/pkg/schema"
	"github.com/ajitpratap0/datatoolset/pkg/table"
	"github.com/ajitpratap0/datatoolset/pkg/testutil"
)

type fixture struct {
	name    string
	adapter func(t *testing.T) formats.Adapter
	write   func(t *testing.T, dir string) string
	seq     func(t *testing.T, dir, name string, n int) string
	ext     string
}

func fixtures() []fixture {
	return []fixture{
		{
			name:    "avro",
			adapter: func(t *testing.T) formats.Adapter { return formats.NewAvroAdapter(testutil.TestLogger(t)) },
			write:   testutil.WriteCharactersAvro,
			seq: func(t *testing.T, dir, name string, n int) string {
				return testutil.WriteSequenceAvro(t, dir, name, 0, int64(n))
			},
			ext: ".avro",
		},
		{
			name:    "parquet",
			adapter: func(t *testing.T) formats.Adapter { return formats.NewParquetAdapter(testutil.TestLogger(t)) },
			write:   testutil.WriteCharactersParquet,
			seq: func(t *testing.T, dir, name string, n int) string {
				return testutil.WriteSequenceParquet(t, dir, name, n, 7)
			},
			ext: ".parquet",
		},
	}
}

func ids(t *testing.T, tbl arrow.Table) []int64 {
	t.Helper()
	var out []int64
	require.NoError(t, table.ForEachRow(tbl, func(row map[string]any) error {
		out = append(out, row["id"].(int64))
		return nil
	}))
	return out
}

// sameSchema compares names, nullability and types, ignoring the field ids
// the Parquet reader attaches as metadata
func sameSchema(t *testing.T, want, got *arrow.Schema) {
	t.Helper()
	require.Equal(t, want.NumFields(), got.NumFields(), got.String())
	for i, w := range want.Fields() {
		g := got.Field(i)
		assert.Equal(t, w.Name, g.Name)
		assert.Equal(t, w.Nullable, g.Nullable, w.Name)
		assert.True(t, arrow.TypeEqual(w.Type, g.Type), "%s: %s != %s", w.Name, w.Type, g.Type)
	}
}

func seqRange(from, to int64) []int64 {
	out := make([]int64, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func TestDetect(t *testing.T) {
	tests := []struct {
		path    string
		want    formats.Format
		wantErr bool
	}{
		{"weather.avro", formats.Avro, false},
		{"WEATHER.PARQUET", formats.Parquet, false},
		{"/data/x.parquet", formats.Parquet, false},
		{"weather.csv", "", true},
		{"weather", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := formats.Detect(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
				assert.Contains(t, err.Error(), "unsupported file format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateFormat(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			dir := t.TempDir()
			a := fx.adapter(t)

			assert.NoError(t, a.ValidateFormat(fx.write(t, dir)))

			empty := filepath.Join(dir, "empty"+fx.ext)
			require.NoError(t, os.WriteFile(empty, nil, 0o644))
			bogus := filepath.Join(dir, "bogus"+fx.ext)
			require.NoError(t, os.WriteFile(bogus, []byte("not a container"), 0o644))
			short := filepath.Join(dir, "short"+fx.ext)
			require.NoError(t, os.WriteFile(short, []byte("P"), 0o644))

			for _, p := range []string{empty, bogus, short, filepath.Join(dir, "missing"+fx.ext), dir} {
				err := a.ValidateFormat(p)
				require.Error(t, err, p)
				assert.True(t, errors.IsType(err, errors.ErrorTypeFormat), p)
			}

			_, err := a.ToTable(testutil.TestContext(t), bogus)
			assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
		})
	}
}

func TestToTable(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			ctx := testutil.TestContext(t)
			a := fx.adapter(t)

			tbl, err := a.ToTable(ctx, fx.write(t, t.TempDir()))
			require.NoError(t, err)
			defer tbl.Release()

			assert.Equal(t, int64(3), tbl.NumRows())
			sameSchema(t, testutil.CharacterArrowSchema, tbl.Schema())

			var rows []map[string]any
			require.NoError(t, table.ForEachRow(tbl, func(row map[string]any) error {
				rows = append(rows, row)
				return nil
			}))
			require.Len(t, rows, 3)
			assert.Equal(t, "Alice", rows[0]["character"])
			assert.Equal(t, int64(10), rows[0]["age"])
			assert.Equal(t, true, rows[0]["is_human"])
			assert.Equal(t, 4.5, rows[0]["height"])
			assert.Equal(t, []any{"White Rabbit", "Cheshire Cat"}, rows[0]["friends"])
			assert.Equal(t, map[string]any{"color": "blue", "size": "small"}, rows[0]["appearance"])
			assert.Nil(t, rows[2]["quote"])
		})
	}
}

func TestHeadTailCount(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			ctx := testutil.TestContext(t)
			a := fx.adapter(t)
			path := fx.seq(t, t.TempDir(), "seq"+fx.ext, 30)

			count, err := a.Count(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, int64(30), count)

			tests := []struct {
				n        int64
				wantHead []int64
				wantTail []int64
			}{
				{0, nil, nil},
				{1, seqRange(0, 1), seqRange(29, 30)},
				{8, seqRange(0, 8), seqRange(22, 30)},
				{30, seqRange(0, 30), seqRange(0, 30)},
				{100, seqRange(0, 30), seqRange(0, 30)},
			}
			for _, tt := range tests {
				head, err := a.Head(ctx, path, tt.n)
				require.NoError(t, err)
				assert.Equal(t, tt.wantHead, ids(t, head), "head %d", tt.n)
				head.Release()

				tail, err := a.Tail(ctx, path, tt.n)
				require.NoError(t, err)
				assert.Equal(t, tt.wantTail, ids(t, tail), "tail %d", tt.n)
				tail.Release()
			}
		})
	}
}

func TestStreamRecords(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			ctx := testutil.TestContext(t)
			a := fx.adapter(t)
			path := fx.seq(t, t.TempDir(), "seq"+fx.ext, 25)

			var got []int64
			batches := 0
			err := a.StreamRecords(ctx, path, 4, func(rec arrow.Record) error {
				assert.LessOrEqual(t, rec.NumRows(), int64(4))
				col := rec.Column(0).(*array.Int64)
				got = append(got, col.Int64Values()...)
				batches++
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, seqRange(0, 25), got)
			assert.GreaterOrEqual(t, batches, 7)

			stop := errors.New(errors.ErrorTypeInternal, "stop")
			err = a.StreamRecords(ctx, path, 4, func(arrow.Record) error { return stop })
			assert.ErrorIs(t, err, stop)
		})
	}
}

func TestExtractMetadata(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			ctx := testutil.TestContext(t)
			a := fx.adapter(t)
			path := fx.write(t, t.TempDir())

			md, err := a.ExtractMetadata(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, fx.adapter(t).Format(), md.Format)
			assert.Equal(t, schema.CodecUncompressed, md.Codec)
			assert.Equal(t, "testutil", md.KeyValue["origin"])
			assert.NotEmpty(t, md.RawSchema)
			assert.Greater(t, md.SerializedSize, int64(0))
			require.NotNil(t, md.RecordCount)
			assert.Equal(t, int64(3), *md.RecordCount)
			assert.Equal(t, []string{"character", "age", "is_human", "height", "quote", "friends", "appearance"}, md.Schema.Names())

			f, ok := md.Schema.Field("quote")
			require.True(t, ok)
			assert.True(t, f.Nullable)
			assert.Equal(t, schema.TypeString, f.Type)
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	for _, src := range fixtures() {
		for _, dst := range fixtures() {
			t.Run(src.name+"_to_"+dst.name, func(t *testing.T) {
				ctx := testutil.TestContext(t)
				dir := t.TempDir()

				tbl, err := src.adapter(t).ToTable(ctx, src.write(t, dir))
				require.NoError(t, err)
				defer tbl.Release()

				out := filepath.Join(dir, "out"+dst.ext)
				res, err := dst.adapter(t).WriteTable(ctx, tbl, out, formats.WriteOptions{
					Codec:    "snappy",
					Metadata: map[string]string{"owner": "tests"},
				})
				require.NoError(t, err)
				assert.Equal(t, int64(3), res.Rows)
				assert.Equal(t, "snappy", res.Codec)

				back, err := dst.adapter(t).ToTable(ctx, out)
				require.NoError(t, err)
				defer back.Release()
				sameSchema(t, tbl.Schema(), back.Schema())

				var want, got []map[string]any
				require.NoError(t, table.ForEachRow(tbl, func(r map[string]any) error { want = append(want, r); return nil }))
				require.NoError(t, table.ForEachRow(back, func(r map[string]any) error { got = append(got, r); return nil }))
				assert.Equal(t, want, got)

				md, err := dst.adapter(t).ExtractMetadata(ctx, out)
				require.NoError(t, err)
				assert.Equal(t, schema.CodecSnappy, md.Codec)
				assert.Equal(t, "tests", md.KeyValue["owner"])
			})
		}
	}
}

func TestWriteRejectsCodec(t *testing.T) {
	ctx := testutil.TestContext(t)
	rec := testutil.SequenceRecord(3)
	defer rec.Release()
	tbl := table.FromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()

	tests := []struct {
		name    string
		adapter formats.Adapter
		codec   schema.Codec
	}{
		{"avro zstd", formats.NewAvroAdapter(nil), "zstd"},
		{"avro bogus", formats.NewAvroAdapter(nil), "bogus"},
		{"parquet deflate", formats.NewParquetAdapter(nil), "deflate"},
		{"parquet lzo", formats.NewParquetAdapter(nil), "lzo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out")
			_, err := tt.adapter.WriteTable(ctx, tbl, out, formats.WriteOptions{Codec: tt.codec})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), err.Error())
			_, statErr := os.Stat(out)
			assert.True(t, os.IsNotExist(statErr), "no output is created for a rejected codec")
		})
	}
}

func TestAvroWriteIsDeterministic(t *testing.T) {
	ctx := testutil.TestContext(t)
	dir := t.TempDir()
	a := formats.NewAvroAdapter(nil)

	rec := testutil.SequenceRecord(10)
	defer rec.Release()
	tbl := table.FromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()

	sync := []byte("0123456789abcdef")
	var contents [][]byte
	for _, name := range []string{"a.avro", "b.avro"} {
		p := filepath.Join(dir, name)
		_, err := a.WriteTable(ctx, tbl, p, formats.WriteOptions{SyncMarker: sync})
		require.NoError(t, err)
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		contents = append(contents, data)
	}
	assert.Equal(t, contents[0], contents[1])

	_, err := a.WriteTable(ctx, tbl, filepath.Join(dir, "c.avro"), formats.WriteOptions{SyncMarker: []byte("short")})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestMerge(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			ctx := testutil.TestContext(t)
			dir := t.TempDir()
			a := fx.adapter(t)

			p1 := fx.seq(t, dir, "one"+fx.ext, 10)
			p2 := fx.seq(t, dir, "two"+fx.ext, 15)
			out := filepath.Join(dir, "merged"+fx.ext)

			res, err := a.Merge(ctx, []string{p1, p2}, out)
			require.NoError(t, err)
			assert.Equal(t, int64(25), res.Rows)
			assert.Equal(t, 2, res.Inputs)

			count, err := a.Count(ctx, out)
			require.NoError(t, err)
			assert.Equal(t, int64(25), count)

			tbl, err := a.ToTable(ctx, out)
			require.NoError(t, err)
			defer tbl.Release()
			assert.Equal(t, append(seqRange(0, 10), seqRange(0, 15)...), ids(t, tbl))

			md, err := a.ExtractMetadata(ctx, out)
			require.NoError(t, err)
			assert.Equal(t, "testutil", md.KeyValue["origin"])
		})
	}
}

func TestMergeValidatesInputs(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			ctx := testutil.TestContext(t)
			dir := t.TempDir()
			a := fx.adapter(t)

			good := fx.seq(t, dir, "good"+fx.ext, 5)
			bad := filepath.Join(dir, "bad"+fx.ext)
			require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))

			_, err := a.Merge(ctx, []string{good, bad}, filepath.Join(dir, "merged"+fx.ext))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeFormat), "inputs are validated before writing")

			_, err = a.Merge(ctx, nil, filepath.Join(dir, "none"+fx.ext))
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestValidateSchema(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			ctx := testutil.TestContext(t)
			dir := t.TempDir()
			a := fx.adapter(t)
			path := fx.write(t, dir)

			require.NoError(t, a.ValidateSchema(ctx, path, ""))

			matching := filepath.Join(dir, "matching.avsc")
			require.NoError(t, os.WriteFile(matching, []byte(testutil.CharacterSchema), 0o644))
			assert.NoError(t, a.ValidateSchema(ctx, path, matching))

			other := filepath.Join(dir, "other.avsc")
			require.NoError(t, os.WriteFile(other, []byte(testutil.SequenceSchema), 0o644))
			err := a.ValidateSchema(ctx, path, other)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaValidation), err.Error())
		})
	}
}
