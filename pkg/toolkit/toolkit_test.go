package toolkit_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/datatoolset/pkg/compression"
	"github.com/ajitpratap0/datatoolset/pkg/config"
	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/sample"
	"github.com/ajitpratap0/datatoolset/pkg/schema"
	"github.com/ajitpratap0/datatoolset/pkg/testutil"
	"github.com/ajitpratap0/datatoolset/pkg/toolkit"
)

func newToolkit(t *testing.T) *toolkit.Toolkit {
	return toolkit.New(config.Default(), testutil.TestLogger(t))
}

func TestHeadTail(t *testing.T) {
	ctx := testutil.TestContext(t)
	tk := newToolkit(t)
	dir := t.TempDir()

	for _, path := range []string{
		testutil.WriteSequenceAvro(t, dir, "seq.avro", 0, 30),
		testutil.WriteSequenceParquet(t, dir, "seq.parquet", 30, 7),
	} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			head, err := tk.Head(ctx, path, 4)
			require.NoError(t, err)
			defer head.Release()
			assert.Equal(t, int64(4), head.NumRows())

			tail, err := tk.Tail(ctx, path, 100)
			require.NoError(t, err)
			defer tail.Release()
			assert.Equal(t, int64(30), tail.NumRows(), "n beyond the file returns every row")

			_, err = tk.Head(ctx, path, -1)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestUnknownExtension(t *testing.T) {
	ctx := testutil.TestContext(t)
	tk := newToolkit(t)

	_, err := tk.Count(ctx, filepath.Join(t.TempDir(), "weather.csv"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
}

func TestMetaSchemaCount(t *testing.T) {
	ctx := testutil.TestContext(t)
	tk := newToolkit(t)
	dir := t.TempDir()

	tests := []struct {
		path   string
		format schema.Format
	}{
		{testutil.WriteCharactersAvro(t, dir), schema.FormatAvro},
		{testutil.WriteCharactersParquet(t, dir), schema.FormatParquet},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			meta, err := tk.Meta(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.format, meta.Format)

			sc, err := tk.Schema(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.format, sc.Format)
			assert.Equal(t, []string{"character", "age", "is_human", "height", "quote", "friends", "appearance"},
				sc.Schema.Names())
			assert.NotEmpty(t, sc.Raw)

			n, err := tk.Count(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			st, err := tk.Stats(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, int64(3), st.RowCount)
			assert.Equal(t, int64(10), st.Columns["age"].Max)
		})
	}
}

func TestValidate(t *testing.T) {
	ctx := testutil.TestContext(t)
	tk := newToolkit(t)
	dir := t.TempDir()
	path := testutil.WriteCharactersAvro(t, dir)

	assert.NoError(t, tk.Validate(ctx, path, ""))

	other := filepath.Join(dir, "other.avsc")
	require.NoError(t, os.WriteFile(other, []byte(testutil.SequenceSchema), 0o644))
	err := tk.Validate(ctx, path, other)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaValidation))

	bogus := filepath.Join(dir, "bogus.avro")
	require.NoError(t, os.WriteFile(bogus, []byte("not a container"), 0o644))
	err = tk.Validate(ctx, bogus, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
}

func TestMerge(t *testing.T) {
	ctx := testutil.TestContext(t)
	tk := newToolkit(t)
	dir := t.TempDir()

	out := filepath.Join(dir, "merged.parquet")
	res, err := tk.Merge(ctx, []string{
		testutil.WriteSequenceParquet(t, dir, "a.parquet", 5, 0),
		testutil.WriteSequenceParquet(t, dir, "b.parquet", 6, 0),
	}, out)
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.Rows)

	n, err := tk.Count(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
}

func TestConvertRoundTrip(t *testing.T) {
	ctx := testutil.TestContext(t)
	tk := newToolkit(t)
	dir := t.TempDir()
	src := testutil.WriteCharactersAvro(t, dir)

	pq := filepath.Join(dir, "out.parquet")
	res, err := tk.ToParquet(ctx, src, pq, schema.CodecZstd)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows)
	assert.Equal(t, "zstd", res.Codec)

	back := filepath.Join(dir, "back.avro")
	res, err = tk.ToAvro(ctx, pq, back, "")
	require.NoError(t, err)
	assert.Equal(t, "uncompressed", res.Codec, "codec defaults from configuration")

	orig, err := tk.Head(ctx, src, 10)
	require.NoError(t, err)
	defer orig.Release()
	again, err := tk.Head(ctx, back, 10)
	require.NoError(t, err)
	defer again.Release()
	assert.Equal(t, orig.NumRows(), again.NumRows())
	for i := 0; i < int(orig.NumCols()); i++ {
		assert.Equal(t, orig.Schema().Field(i).Name, again.Schema().Field(i).Name)
	}

	_, err = tk.ToAvro(ctx, src, filepath.Join(dir, "x.avro"), schema.CodecZstd)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	_, err = os.Stat(filepath.Join(dir, "x.avro"))
	assert.True(t, os.IsNotExist(err), "rejected codecs write nothing")
}

func TestToParquetRejectsLZOBeforeReading(t *testing.T) {
	ctx := testutil.TestContext(t)
	tk := newToolkit(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.parquet")

	// the source does not exist, so only a codec check can fail first
	_, err := tk.ToParquet(ctx, filepath.Join(dir, "missing.avro"), out, schema.CodecLZO)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), err.Error())
	assert.Contains(t, err.Error(), "lzo")
	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestTextOutputsUseConfiguration(t *testing.T) {
	ctx := testutil.TestContext(t)
	cfg := config.Default()
	cfg.CSV.Delimiter = ";"
	cfg.CSV.Header = false
	cfg.Output.Compression = "gzip"
	tk := toolkit.New(cfg, testutil.TestLogger(t))
	dir := t.TempDir()
	src := testutil.WriteSequenceParquet(t, dir, "seq.parquet", 3, 0)

	alg, err := tk.Compression()
	require.NoError(t, err)
	assert.Equal(t, compression.Gzip, alg)

	out := filepath.Join(dir, "seq.csv.gz")
	res, err := tk.ToCSV(ctx, src, out, tk.CSVOptions(), alg)
	require.NoError(t, err)
	assert.Equal(t, "gzip", res.Compression)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	plain, err := compression.Decompress(data, compression.Gzip)
	require.NoError(t, err)
	assert.Equal(t, "0\n1\n2\n", string(plain))

	jsonOut := filepath.Join(dir, "seq.json")
	res, err = tk.ToJSON(ctx, src, jsonOut, tk.JSONOptions(), compression.None)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows)
	data, err = os.ReadFile(jsonOut)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":0},{"id":1},{"id":2}]`, string(data))
}

func TestRandomSample(t *testing.T) {
	ctx := testutil.TestContext(t)
	tk := newToolkit(t)
	dir := t.TempDir()
	src := testutil.WriteSequenceAvro(t, dir, "seq.avro", 0, 40)

	n, seed := 10, uint64(7)
	res, err := tk.RandomSample(ctx, src, filepath.Join(dir, "sample.avro"), sample.Options{N: &n, Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Rows)
	assert.Equal(t, int64(40), res.SourceRows)

	_, err = tk.RandomSample(ctx, src, filepath.Join(dir, "bad.avro"), sample.Options{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestQuery(t *testing.T) {
	testutil.IntegrationTest(t)

	ctx := testutil.TestContext(t)
	cfg := config.Default()
	cfg.Query.TempDir = t.TempDir()
	tk := toolkit.New(cfg, testutil.TestLogger(t))
	path := testutil.WriteCharactersParquet(t, t.TempDir())

	out, err := tk.Query(ctx, path, `SELECT count(*) AS n FROM "characters.parquet" WHERE is_human`)
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, int64(1), out.NumRows())
}

func TestOperationLogsCarryOperationAndFile(t *testing.T) {
	ctx := testutil.TestContext(t)
	core, logs := observer.New(zapcore.InfoLevel)
	tk := toolkit.New(config.Default(), zap.New(core))
	dir := t.TempDir()
	src := testutil.WriteCharactersAvro(t, dir)

	_, err := tk.ToJSON(ctx, src, filepath.Join(dir, "out.json"), tk.JSONOptions(), compression.None)
	require.NoError(t, err)

	entries := logs.FilterMessage("converted file").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "to_json", fields["operation"])
	assert.Equal(t, src, fields["file"])
}
