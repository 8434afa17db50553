// Package stats computes per-column statistics over a file in a single
// streaming pass. Only one record is resident at a time; auxiliary memory is
// proportional to the number of columns.
package stats

import (
	"context"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/decimal256"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datatoolset/pkg/formats"
	"github.com/ajitpratap0/datatoolset/pkg/schema"
	"github.com/ajitpratap0/datatoolset/pkg/table"
)

// DefaultBatchSize is the record size used when streaming the row format
const DefaultBatchSize = 65536

// ColumnStat holds the aggregate of one column. Min and Max stay nil when
// the column has no non-null value of an orderable type.
type ColumnStat struct {
	Count     int64 `json:"count"`
	NullCount int64 `json:"null_count"`
	Min       any   `json:"min"`
	Max       any   `json:"max"`
}

// Result is the outcome of Compute
type Result struct {
	RowCount int64                  `json:"row_count"`
	Columns  map[string]*ColumnStat `json:"columns"`
	// Order lists the column names in schema order
	Order []string `json:"-"`
}

// Aggregator folds records into column statistics
type Aggregator struct {
	result   *Result
	trackers []tracker
	stats    []*ColumnStat
}

// NewAggregator creates an aggregator for records of schema sc
func NewAggregator(sc *arrow.Schema) *Aggregator {
	agg := &Aggregator{
		result: &Result{Columns: make(map[string]*ColumnStat, sc.NumFields())},
	}
	for _, f := range sc.Fields() {
		st := &ColumnStat{}
		agg.result.Columns[f.Name] = st
		agg.result.Order = append(agg.result.Order, f.Name)
		agg.stats = append(agg.stats, st)
		agg.trackers = append(agg.trackers, trackerFor(f.Type))
	}
	return agg
}

// Update folds rec into the running statistics
func (a *Aggregator) Update(rec arrow.Record) {
	a.result.RowCount += rec.NumRows()
	for c, col := range rec.Columns() {
		if c >= len(a.stats) {
			break
		}
		st := a.stats[c]
		st.Count += int64(col.Len())
		st.NullCount += int64(col.NullN())
		if t := a.trackers[c]; t != nil {
			t.update(col)
		}
	}
}

// Result returns the statistics folded so far
func (a *Aggregator) Result() *Result {
	for c, t := range a.trackers {
		if t != nil {
			a.stats[c].Min, a.stats[c].Max = t.extrema()
		}
	}
	return a.result
}

// Compute streams path through adapter and aggregates every column
func Compute(ctx context.Context, adapter formats.Adapter, path string, batchSize int, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var agg *Aggregator
	records := 0
	err := adapter.StreamRecords(ctx, path, batchSize, func(rec arrow.Record) error {
		if agg == nil {
			agg = NewAggregator(rec.Schema())
		}
		agg.Update(rec)
		records++
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	if agg == nil {
		// no records: report every column with zero counts
		empty, err := adapter.Head(ctx, path, 0)
		if err != nil {
			return nil, err
		}
		agg = NewAggregator(empty.Schema())
		empty.Release()
	}

	res := agg.Result()
	logger.Debug("computed statistics",
		zap.String("path", path),
		zap.Int64("rows", res.RowCount),
		zap.Int("records", records),
		zap.Int("columns", len(res.Order)))
	return res, nil
}

// tracker maintains the extrema of one orderable column
type tracker interface {
	update(arr arrow.Array)
	extrema() (min, max any)
}

// extremaTracker compares values of type T. Equal values never replace an
// existing extremum, and min and max are updated independently.
type extremaTracker[T any] struct {
	get  func(arr arrow.Array, i int) (T, bool)
	less func(a, b T) bool

	seen         bool
	lo, hi       T
	loOut, hiOut any
}

func (t *extremaTracker[T]) update(arr arrow.Array) {
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		v, ok := t.get(arr, i)
		if !ok {
			continue
		}
		if !t.seen {
			t.seen = true
			t.lo, t.hi = v, v
			t.loOut = table.ValueAt(arr, i)
			t.hiOut = t.loOut
			continue
		}
		if t.less(v, t.lo) {
			t.lo, t.loOut = v, table.ValueAt(arr, i)
		}
		if t.less(t.hi, v) {
			t.hi, t.hiOut = v, table.ValueAt(arr, i)
		}
	}
}

func (t *extremaTracker[T]) extrema() (any, any) {
	if !t.seen {
		return nil, nil
	}
	return t.loOut, t.hiOut
}

func ordered[T int64 | uint64 | float64 | string](a, b T) bool { return a < b }

// trackerFor picks the comparison once per column. Nested and unknown types
// get no tracker and are counted only.
func trackerFor(dt arrow.DataType) tracker {
	if !schema.LogicalTypeOf(dt).Orderable() {
		return nil
	}
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.DATE32, arrow.DATE64, arrow.TIME32, arrow.TIME64, arrow.TIMESTAMP:
		return &extremaTracker[int64]{get: signedAt, less: ordered[int64]}
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return &extremaTracker[uint64]{get: unsignedAt, less: ordered[uint64]}
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return &extremaTracker[float64]{get: floatAt, less: ordered[float64]}
	case arrow.BOOL:
		return &extremaTracker[bool]{
			get:  func(arr arrow.Array, i int) (bool, bool) { return arr.(*array.Boolean).Value(i), true },
			less: func(a, b bool) bool { return !a && b },
		}
	case arrow.STRING, arrow.LARGE_STRING, arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return &extremaTracker[string]{get: bytesAt, less: ordered[string]}
	case arrow.DECIMAL128:
		return &extremaTracker[decimal128.Num]{
			get:  func(arr arrow.Array, i int) (decimal128.Num, bool) { return arr.(*array.Decimal128).Value(i), true },
			less: func(a, b decimal128.Num) bool { return a.Less(b) },
		}
	case arrow.DECIMAL256:
		return &extremaTracker[decimal256.Num]{
			get:  func(arr arrow.Array, i int) (decimal256.Num, bool) { return arr.(*array.Decimal256).Value(i), true },
			less: func(a, b decimal256.Num) bool { return a.Less(b) },
		}
	default:
		return nil
	}
}

func signedAt(arr arrow.Array, i int) (int64, bool) {
	switch a := arr.(type) {
	case *array.Int8:
		return int64(a.Value(i)), true
	case *array.Int16:
		return int64(a.Value(i)), true
	case *array.Int32:
		return int64(a.Value(i)), true
	case *array.Int64:
		return a.Value(i), true
	case *array.Date32:
		return int64(a.Value(i)), true
	case *array.Date64:
		return int64(a.Value(i)), true
	case *array.Time32:
		return int64(a.Value(i)), true
	case *array.Time64:
		return int64(a.Value(i)), true
	case *array.Timestamp:
		return int64(a.Value(i)), true
	}
	return 0, false
}

func unsignedAt(arr arrow.Array, i int) (uint64, bool) {
	switch a := arr.(type) {
	case *array.Uint8:
		return uint64(a.Value(i)), true
	case *array.Uint16:
		return uint64(a.Value(i)), true
	case *array.Uint32:
		return uint64(a.Value(i)), true
	case *array.Uint64:
		return a.Value(i), true
	}
	return 0, false
}

// floatAt reports NaN as absent so it never becomes an extremum
func floatAt(arr arrow.Array, i int) (float64, bool) {
	var v float64
	switch a := arr.(type) {
	case *array.Float16:
		v = float64(a.Value(i).Float32())
	case *array.Float32:
		v = float64(a.Value(i))
	case *array.Float64:
		v = a.Value(i)
	default:
		return 0, false
	}
	return v, !math.IsNaN(v)
}

func bytesAt(arr arrow.Array, i int) (string, bool) {
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i), true
	case *array.LargeString:
		return a.Value(i), true
	case *array.Binary:
		return string(a.Value(i)), true
	case *array.LargeBinary:
		return string(a.Value(i)), true
	case *array.FixedSizeBinary:
		return string(a.Value(i)), true
	}
	return "", false
}
