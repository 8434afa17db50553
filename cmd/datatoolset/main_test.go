package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	jsonpool "github.com/ajitpratap0/datatoolset/pkg/json"
	"github.com/ajitpratap0/datatoolset/pkg/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(testutil.TestContext(t))
	return stdout.String(), err
}

func jsonLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var rows []map[string]any
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var row map[string]any
		require.NoError(t, jsonpool.Unmarshal(sc.Bytes(), &row))
		rows = append(rows, row)
	}
	return rows
}

func TestHeadAndTailCommands(t *testing.T) {
	path := testutil.WriteSequenceAvro(t, t.TempDir(), "seq.avro", 0, 30)

	out, err := execute(t, "head", path)
	require.NoError(t, err)
	assert.Len(t, jsonLines(t, out), 20, "read.head_rows applies without -n")

	out, err = execute(t, "tail", "-n", "2", path)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": float64(28)}, {"id": float64(29)}}, jsonLines(t, out))

	out, err = execute(t, "head", "-n", "0", path)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCountAndMetaCommands(t *testing.T) {
	path := testutil.WriteCharactersParquet(t, t.TempDir())

	out, err := execute(t, "count", path)
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = execute(t, "meta", path)
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, jsonpool.Unmarshal([]byte(out), &meta))
	assert.Equal(t, "parquet", meta["format"])

	out, err = execute(t, "stats", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"row_count": 3`)
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "count", filepath.Join(dir, "missing.avro"))
	require.Error(t, err)

	_, err = execute(t, "count", filepath.Join(dir, "weather.csv"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))

	_, err = execute(t, "merge", "a.avro", "out.avro")
	assert.Error(t, err, "merge needs two inputs and an output")

	path := testutil.WriteSequenceAvro(t, dir, "seq.avro", 0, 5)
	_, err = execute(t, "to_avro", "--codec", "zstd", path, filepath.Join(dir, "out.avro"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = execute(t, "random_sample", "--n", "2", "--fraction", "0.5", path, filepath.Join(dir, "s.avro"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestConvertCommands(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteSequenceParquet(t, dir, "seq.parquet", 3, 0)

	csvOut := filepath.Join(dir, "seq.csv")
	_, err := execute(t, "to_csv", "--no-header", "--line-terminator", "\r\n", path, csvOut)
	require.NoError(t, err)
	data, err := os.ReadFile(csvOut)
	require.NoError(t, err)
	assert.Equal(t, "0\r\n1\r\n2\r\n", string(data))

	avroOut := filepath.Join(dir, "seq.avro")
	out, err := execute(t, "to_avro", "--codec", "deflate", path, avroOut)
	require.NoError(t, err)
	assert.Contains(t, out, `"codec": "deflate"`)

	out, err = execute(t, "count", avroOut)
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}

func TestSeededSampleCommandIsReproducible(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteSequenceAvro(t, dir, "seq.avro", 0, 100)

	a, b := filepath.Join(dir, "a.avro"), filepath.Join(dir, "b.avro")
	for _, out := range []string{a, b} {
		_, err := execute(t, "random_sample", "--n", "10", "--seed", "42", path, out)
		require.NoError(t, err)
	}

	first, err := os.ReadFile(a)
	require.NoError(t, err)
	second, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMetricsFileFlag(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteSequenceAvro(t, dir, "seq.avro", 0, 4)
	metrics := filepath.Join(dir, "metrics.prom")

	_, err := execute(t, "--metrics-file", metrics, "count", path)
	require.NoError(t, err)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `datatoolset_operation_rows_total{format="avro",operation="count"}`)
}
