package formats

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	jsonpool "github.com/ajitpratap0/datatoolset/pkg/json"
	"github.com/ajitpratap0/datatoolset/pkg/table"
)

// appendAvroDatum appends one decoded OCF datum as a row of rb
func appendAvroDatum(rb *array.RecordBuilder, root *avroNode, datum interface{}) error {
	if root.kind != "record" {
		return appendAvroNative(rb.Field(0), root, datum)
	}
	m, ok := datum.(map[string]interface{})
	if !ok {
		return fmt.Errorf("expected record, got %T", datum)
	}
	for i, f := range root.fields {
		if err := appendAvroNative(rb.Field(i), f.node, m[f.name]); err != nil {
			return fmt.Errorf("field %s: %w", f.name, err)
		}
	}
	return nil
}

// appendAvroNative appends a goavro native value to b following node
func appendAvroNative(b array.Builder, node *avroNode, v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	if node.kind == "union" {
		inner, _, ok := node.nullable()
		if !ok {
			data, err := jsonpool.Marshal(jsonSafeAvro(v))
			if err != nil {
				return err
			}
			b.(*array.StringBuilder).Append(string(data))
			return nil
		}
		if m, isMap := v.(map[string]interface{}); isMap && len(m) == 1 {
			for _, val := range m {
				v = val
			}
		}
		return appendAvroNative(b, inner, v)
	}

	switch bb := b.(type) {
	case *array.NullBuilder:
		bb.AppendNull()
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return mismatch("boolean", v)
		}
		bb.Append(x)
	case *array.Int32Builder:
		x, ok := v.(int32)
		if !ok {
			return mismatch("int", v)
		}
		bb.Append(x)
	case *array.Int64Builder:
		x, ok := v.(int64)
		if !ok {
			return mismatch("long", v)
		}
		bb.Append(x)
	case *array.Float32Builder:
		x, ok := v.(float32)
		if !ok {
			return mismatch("float", v)
		}
		bb.Append(x)
	case *array.Float64Builder:
		x, ok := v.(float64)
		if !ok {
			return mismatch("double", v)
		}
		bb.Append(x)
	case *array.StringBuilder:
		x, ok := v.(string)
		if !ok {
			return mismatch("string", v)
		}
		bb.Append(x)
	case *array.BinaryBuilder:
		x, ok := v.([]byte)
		if !ok {
			return mismatch("bytes", v)
		}
		bb.Append(x)
	case *array.FixedSizeBinaryBuilder:
		x, ok := v.([]byte)
		if !ok {
			return mismatch("fixed", v)
		}
		bb.Append(x)
	case *array.Date32Builder:
		x, ok := v.(time.Time)
		if !ok {
			return mismatch("date", v)
		}
		bb.Append(arrow.Date32FromTime(x))
	case *array.Time32Builder:
		x, ok := v.(time.Duration)
		if !ok {
			return mismatch("time-millis", v)
		}
		bb.Append(arrow.Time32(x.Milliseconds()))
	case *array.Time64Builder:
		x, ok := v.(time.Duration)
		if !ok {
			return mismatch("time-micros", v)
		}
		bb.Append(arrow.Time64(x.Microseconds()))
	case *array.TimestampBuilder:
		unit := bb.Type().(*arrow.TimestampType).Unit
		switch x := v.(type) {
		case time.Time:
			ts, err := arrow.TimestampFromTime(x, unit)
			if err != nil {
				return err
			}
			bb.Append(ts)
		case int64:
			bb.Append(arrow.Timestamp(x))
		default:
			return mismatch("timestamp", v)
		}
	case *array.Decimal128Builder:
		x, ok := v.(*big.Rat)
		if !ok {
			return mismatch("decimal", v)
		}
		scale := bb.Type().(*arrow.Decimal128Type).Scale
		bb.Append(decimal128.FromBigInt(scaledInt(x, scale)))
	case *array.MapBuilder:
		m, ok := v.(map[string]interface{})
		if !ok {
			return mismatch("map", v)
		}
		bb.Append(true)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kb := bb.KeyBuilder().(*array.StringBuilder)
		for _, k := range keys {
			kb.Append(k)
			if err := appendAvroNative(bb.ItemBuilder(), node.values, m[k]); err != nil {
				return fmt.Errorf("map key %s: %w", k, err)
			}
		}
	case array.ListLikeBuilder:
		items, ok := v.([]interface{})
		if !ok {
			return mismatch("array", v)
		}
		bb.Append(true)
		for _, item := range items {
			if err := appendAvroNative(bb.ValueBuilder(), node.items, item); err != nil {
				return err
			}
		}
	case *array.StructBuilder:
		m, ok := v.(map[string]interface{})
		if !ok {
			return mismatch("record", v)
		}
		bb.Append(true)
		for i, f := range node.fields {
			if err := appendAvroNative(bb.FieldBuilder(i), f.node, m[f.name]); err != nil {
				return fmt.Errorf("field %s: %w", f.name, err)
			}
		}
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

func mismatch(want string, got interface{}) error {
	return fmt.Errorf("expected %s value, got %T", want, got)
}

// scaledInt returns r * 10^scale truncated toward zero
func scaledInt(r *big.Rat, scale int32) *big.Int {
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	num := new(big.Int).Mul(r.Num(), pow)
	return num.Quo(num, r.Denom())
}

// jsonSafeAvro rewrites goavro natives that have no natural JSON form
func jsonSafeAvro(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = jsonSafeAvro(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = jsonSafeAvro(val)
		}
		return out
	case *big.Rat:
		return x.RatString()
	case time.Duration:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return v
}

// avroDatumFromRecord converts row i of rec into the native form goavro encodes
func avroDatumFromRecord(rec arrow.Record, root *avroNode, i int) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(root.fields))
	for c, f := range root.fields {
		v, err := avroNativeFromArrow(rec.Column(c), i, f.node)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeIO, "column %s row %d", f.name, i)
		}
		out[f.name] = v
	}
	return out, nil
}

// avroNativeFromArrow converts cell i of arr into the goavro native form for node
func avroNativeFromArrow(arr arrow.Array, i int, node *avroNode) (interface{}, error) {
	if dict, ok := arr.(*array.Dictionary); ok {
		if dict.IsNull(i) {
			return nil, nil
		}
		return avroNativeFromArrow(dict.Dictionary(), dict.GetValueIndex(i), node)
	}

	if node.kind == "union" {
		if arr.IsNull(i) {
			return nil, nil
		}
		inner, _, _ := node.nullable()
		v, err := avroNativeFromArrow(arr, i, inner)
		if err != nil {
			return nil, err
		}
		return goavro.Union(inner.unionName(), v), nil
	}
	if arr.IsNull(i) {
		if node.kind == "null" {
			return nil, nil
		}
		return nil, fmt.Errorf("null value in non-nullable column")
	}

	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return int32(a.Value(i)), nil
	case *array.Int16:
		return int32(a.Value(i)), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return int32(a.Value(i)), nil
	case *array.Uint16:
		return int32(a.Value(i)), nil
	case *array.Uint32:
		return int64(a.Value(i)), nil
	case *array.Uint64:
		return int64(a.Value(i)), nil
	case *array.Float16:
		return a.Value(i).Float32(), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return a.Value(i), nil
	case *array.LargeBinary:
		return a.Value(i), nil
	case *array.FixedSizeBinary:
		return a.Value(i), nil
	case *array.Date32:
		return a.Value(i).ToTime(), nil
	case *array.Date64:
		return a.Value(i).ToTime(), nil
	case *array.Time32:
		unit := a.DataType().(*arrow.Time32Type).Unit
		return time.Duration(a.Value(i)) * unit.Multiplier(), nil
	case *array.Time64:
		unit := a.DataType().(*arrow.Time64Type).Unit
		return time.Duration(a.Value(i)) * unit.Multiplier(), nil
	case *array.Timestamp:
		return table.TimestampValue(a, i).UTC(), nil
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
		return new(big.Rat).SetFrac(a.Value(i).BigInt(), pow), nil
	case *array.Map:
		start, end := a.ValueOffsets(i)
		keys, items := a.Keys(), a.Items()
		out := make(map[string]interface{}, end-start)
		for j := start; j < end; j++ {
			k := fmt.Sprint(table.ValueAt(keys, int(j)))
			v, err := avroNativeFromArrow(items, int(j), node.values)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case array.ListLike:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		out := make([]interface{}, 0, end-start)
		for j := start; j < end; j++ {
			v, err := avroNativeFromArrow(values, int(j), node.items)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *array.Struct:
		out := make(map[string]interface{}, len(node.fields))
		for f, field := range node.fields {
			v, err := avroNativeFromArrow(a.Field(f), i, field.node)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field.name, err)
			}
			out[field.name] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported arrow array %T", arr)
}
