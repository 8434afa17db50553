package table

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Layouts used when temporal values are rendered as text
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05.999999999"
)

// ValueAt converts cell i of arr into a plain Go value:
//
//	integers   -> int64 (unsigned -> uint64)
//	floats     -> float64
//	timestamps -> time.Time (in the column's zone, UTC when unset)
//	dates      -> "2006-01-02", times -> "15:04:05.999999999"
//	decimals   -> exact decimal string
//	lists      -> []any, maps -> map[string]any, structs -> map[string]any
//
// Nulls are nil.
func ValueAt(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}

	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i)
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Uint8:
		return uint64(a.Value(i))
	case *array.Uint16:
		return uint64(a.Value(i))
	case *array.Uint32:
		return uint64(a.Value(i))
	case *array.Uint64:
		return a.Value(i)
	case *array.Float16:
		return float64(a.Value(i).Float32())
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Binary:
		return append([]byte(nil), a.Value(i)...)
	case *array.LargeBinary:
		return append([]byte(nil), a.Value(i)...)
	case *array.FixedSizeBinary:
		return append([]byte(nil), a.Value(i)...)
	case *array.Timestamp:
		return TimestampValue(a, i)
	case *array.Date32:
		return a.Value(i).ToTime().Format(DateLayout)
	case *array.Date64:
		return a.Value(i).ToTime().Format(DateLayout)
	case *array.Time32:
		unit := a.DataType().(*arrow.Time32Type).Unit
		return a.Value(i).ToTime(unit).Format(TimeLayout)
	case *array.Time64:
		unit := a.DataType().(*arrow.Time64Type).Unit
		return a.Value(i).ToTime(unit).Format(TimeLayout)
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return a.Value(i).ToString(scale)
	case *array.Decimal256:
		scale := a.DataType().(*arrow.Decimal256Type).Scale
		return a.Value(i).ToString(scale)
	case *array.Map:
		start, end := a.ValueOffsets(i)
		keys, items := a.Keys(), a.Items()
		out := make(map[string]any, end-start)
		for j := start; j < end; j++ {
			out[fmt.Sprint(ValueAt(keys, int(j)))] = ValueAt(items, int(j))
		}
		return out
	case array.ListLike:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		out := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			out = append(out, ValueAt(values, int(j)))
		}
		return out
	case *array.Struct:
		st := a.DataType().(*arrow.StructType)
		out := make(map[string]any, a.NumField())
		for f := 0; f < a.NumField(); f++ {
			out[st.Field(f).Name] = ValueAt(a.Field(f), i)
		}
		return out
	case *array.Dictionary:
		return ValueAt(a.Dictionary(), a.GetValueIndex(i))
	default:
		return arr.ValueStr(i)
	}
}

// TimestampValue returns cell i as a time.Time in the column's time zone
func TimestampValue(a *array.Timestamp, i int) time.Time {
	tt := a.DataType().(*arrow.TimestampType)
	t := a.Value(i).ToTime(tt.Unit)
	if tt.TimeZone == "" {
		return t
	}
	if loc, err := tt.GetZone(); err == nil && loc != nil {
		return t.In(loc)
	}
	return t
}
