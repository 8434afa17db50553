package observability

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
)

// Registry holds every datatoolset metric. It is separate from the default
// registerer so the textfile only carries this tool's series.
var Registry = prometheus.NewRegistry()

var (
	operationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datatoolset",
			Subsystem: "operation",
			Name:      "duration_seconds",
			Help:      "Duration of toolkit operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"operation", "format", "status"},
	)

	rowsProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datatoolset",
			Subsystem: "operation",
			Name:      "rows_total",
			Help:      "Total number of rows produced by toolkit operations",
		},
		[]string{"operation", "format"},
	)

	operationErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datatoolset",
			Subsystem: "operation",
			Name:      "errors_total",
			Help:      "Total number of failed toolkit operations",
		},
		[]string{"operation", "format", "error_type"},
	)

	processRSS = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "datatoolset",
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Resident set size of the process at shutdown",
		},
	)
)

// RecordOperation records the outcome of one operation
func RecordOperation(operation, format string, duration time.Duration, rows int64, err error) {
	operationDuration.WithLabelValues(operation, format, getStatus(err)).Observe(duration.Seconds())
	if rows > 0 {
		rowsProcessed.WithLabelValues(operation, format).Add(float64(rows))
	}
	if err != nil {
		operationErrors.WithLabelValues(operation, format, string(errors.TypeOf(err))).Inc()
	}
}

// RecordProcessMemory samples the resident set size of this process
func RecordProcessMemory() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return 0, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	processRSS.Set(float64(mem.RSS))
	return mem.RSS, nil
}

// WriteMetrics writes the registry to path in prometheus text format
func WriteMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// getStatus returns status string for metrics
func getStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
