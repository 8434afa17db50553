//go:build duckdb_arrow

package query_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datatoolset/pkg/formats"
	"github.com/ajitpratap0/datatoolset/pkg/query"
	"github.com/ajitpratap0/datatoolset/pkg/testutil"
)

func TestRunKeepsNestedTypes(t *testing.T) {
	testutil.IntegrationTest(t)

	ctx := testutil.TestContext(t)
	path := testutil.WriteCharactersAvro(t, t.TempDir())
	engine := query.NewEngine(nil)

	out, err := engine.Run(ctx, formats.NewAvroAdapter(nil), path,
		`SELECT character, friends, appearance FROM "characters.avro" WHERE character = 'Alice'`)
	require.NoError(t, err)
	defer out.Release()

	assert.Contains(t, []arrow.Type{arrow.LIST, arrow.LARGE_LIST}, out.Schema().Field(1).Type.ID())
	assert.Equal(t, arrow.STRUCT, out.Schema().Field(2).Type.ID())

	got := rows(t, out)
	require.Len(t, got, 1)
	assert.Equal(t, []any{"White Rabbit", "Cheshire Cat"}, got[0]["friends"])
}

func TestRunKeepsNaiveTimestamps(t *testing.T) {
	testutil.IntegrationTest(t)

	ctx := testutil.TestContext(t)
	path := testutil.WriteCharactersParquet(t, t.TempDir())
	engine := query.NewEngine(nil)

	out, err := engine.Run(ctx, formats.NewParquetAdapter(nil), path,
		`SELECT TIMESTAMP '2024-01-02 03:04:05.123456' AS at, TIMESTAMP_NS '2024-01-02 03:04:05.123456789' AS at_ns FROM "characters.parquet" LIMIT 1`)
	require.NoError(t, err)
	defer out.Release()

	at := out.Schema().Field(0).Type.(*arrow.TimestampType)
	assert.Empty(t, at.TimeZone)
	assert.Equal(t, arrow.Nanosecond, out.Schema().Field(1).Type.(*arrow.TimestampType).Unit)
}
