package observability

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
)

func TestTraceExportsSpans(t *testing.T) {
	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.Trace = true
	cfg.TraceWriter = &out

	p, err := Initialize(cfg, nil)
	require.NoError(t, err)

	err = NewOperationTracer("avro").Trace(context.Background(), "count", "weather.avro",
		func(ctx context.Context) (int64, error) { return 3, nil })
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, out.String(), "datatoolset.count")
	assert.Contains(t, out.String(), "weather.avro")
}

func TestTraceRecordsMetrics(t *testing.T) {
	p, err := Initialize(DefaultConfig(), nil)
	require.NoError(t, err)
	defer p.Shutdown(context.Background()) //nolint:errcheck

	tracer := NewOperationTracer("parquet")
	before := testutil.ToFloat64(rowsProcessed.WithLabelValues("head", "parquet"))

	require.NoError(t, tracer.Trace(context.Background(), "head", "a.parquet",
		func(ctx context.Context) (int64, error) { return 20, nil }))
	assert.Equal(t, before+20, testutil.ToFloat64(rowsProcessed.WithLabelValues("head", "parquet")))

	boom := errors.New(errors.ErrorTypeQuery, "bad sql")
	err = tracer.Trace(context.Background(), "query", "a.parquet",
		func(ctx context.Context) (int64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, testutil.ToFloat64(operationErrors.WithLabelValues("query", "parquet", "query")))
}

func TestShutdownWritesMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datatoolset.prom")
	cfg := DefaultConfig()
	cfg.MetricsFile = path

	p, err := Initialize(cfg, nil)
	require.NoError(t, err)
	RecordOperation("stats", "avro", 0, 7, nil)
	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "datatoolset_operation_duration_seconds"), text)
	assert.Contains(t, text, `datatoolset_operation_rows_total{format="avro",operation="stats"}`)
	assert.Contains(t, text, "datatoolset_process_resident_memory_bytes")
}
