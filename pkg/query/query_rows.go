//go:build !duckdb_arrow

package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	duckdb "github.com/marcboeker/go-duckdb/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/formats"
	jsonpool "github.com/ajitpratap0/datatoolset/pkg/json"
	stringpool "github.com/ajitpratap0/datatoolset/pkg/strings"
	"github.com/ajitpratap0/datatoolset/pkg/table"
)

// execute stages tbl as Parquet, exposes it as a view and scans the result
// through database/sql.
func (e *Engine) execute(ctx context.Context, conn *sql.Conn, tbl arrow.Table, name, query string) (arrow.Table, error) {
	dir, err := afero.TempDir(e.fs, e.tempDir, "datatoolset-query-")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to create query staging directory")
	}
	defer func() {
		if err := e.fs.RemoveAll(dir); err != nil {
			e.logger.Warn("failed to remove query staging directory", zap.String("dir", dir), zap.Error(err))
		}
	}()

	staged := filepath.Join(dir, "table.parquet")
	if _, err := formats.NewParquetAdapter(e.logger).WriteTable(ctx, tbl, staged, formats.WriteOptions{}); err != nil {
		return nil, err
	}

	sb := stringpool.NewSQLBuilder()
	source := sb.WriteQuery("read_parquet(").WriteStringLiteral(staged).WriteQuery(")").String()
	sb.Close()
	if _, err := conn.ExecContext(ctx, createStatement("VIEW", name, source)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to register table").WithDetail("name", name)
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, queryFailed(err, query)
	}
	defer rows.Close()
	return e.drain(ctx, rows)
}

// drain reads the cursor into records of at most chunkSize rows
func (e *Engine) drain(ctx context.Context, rows *sql.Rows) (arrow.Table, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read result columns")
	}
	fields := make([]arrow.Field, len(types))
	for i, ct := range types {
		fields[i] = arrow.Field{Name: ct.Name(), Type: arrowType(ct.DatabaseTypeName()), Nullable: true}
	}
	sc := arrow.NewSchema(fields, nil)

	rb := array.NewRecordBuilder(table.Allocator, sc)
	defer rb.Release()

	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()

	values := make([]any, len(fields))
	ptrs := make([]any, len(fields))
	for i := range values {
		ptrs[i] = &values[i]
	}

	pending := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan result row")
		}
		for i, v := range values {
			if err := appendValue(rb.Field(i), v); err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeQuery, "column %s", fields[i].Name)
			}
		}
		pending++
		if pending == e.chunkSize {
			recs = append(recs, rb.NewRecord())
			pending = 0
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
	if pending > 0 {
		recs = append(recs, rb.NewRecord())
	}
	return table.FromRecords(sc, recs), nil
}

// arrowType maps a DuckDB type name onto the arrow type results are built
// in. Nested types have no scan-side schema and are carried as JSON text.
func arrowType(name string) arrow.DataType {
	name = strings.ToUpper(strings.TrimSpace(name))
	if strings.HasSuffix(name, "]") {
		return arrow.BinaryTypes.String
	}
	if strings.HasPrefix(name, "DECIMAL(") {
		var p, s int32
		if _, err := fmt.Sscanf(name, "DECIMAL(%d,%d)", &p, &s); err == nil {
			return &arrow.Decimal128Type{Precision: p, Scale: s}
		}
	}
	switch name {
	case "BOOLEAN":
		return arrow.FixedWidthTypes.Boolean
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT":
		return arrow.PrimitiveTypes.Int64
	case "UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT":
		return arrow.PrimitiveTypes.Uint64
	case "HUGEINT":
		return &arrow.Decimal128Type{Precision: 38, Scale: 0}
	case "FLOAT", "DOUBLE":
		return arrow.PrimitiveTypes.Float64
	case "VARCHAR":
		return arrow.BinaryTypes.String
	case "BLOB":
		return arrow.BinaryTypes.Binary
	case "TIMESTAMP":
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	case "TIMESTAMP_S":
		return &arrow.TimestampType{Unit: arrow.Second}
	case "TIMESTAMP_MS":
		return &arrow.TimestampType{Unit: arrow.Millisecond}
	case "TIMESTAMP_NS":
		return &arrow.TimestampType{Unit: arrow.Nanosecond}
	case "TIMESTAMPTZ":
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case "DATE":
		return arrow.FixedWidthTypes.Date32
	case "TIME":
		return arrow.FixedWidthTypes.Time64us
	default:
		return arrow.BinaryTypes.String
	}
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.BooleanBuilder:
		if x, ok := v.(bool); ok {
			b.Append(x)
			return nil
		}
	case *array.Int64Builder:
		switch x := v.(type) {
		case int8:
			b.Append(int64(x))
		case int16:
			b.Append(int64(x))
		case int32:
			b.Append(int64(x))
		case int64:
			b.Append(x)
		default:
			return mismatch(v)
		}
		return nil
	case *array.Uint64Builder:
		switch x := v.(type) {
		case uint8:
			b.Append(uint64(x))
		case uint16:
			b.Append(uint64(x))
		case uint32:
			b.Append(uint64(x))
		case uint64:
			b.Append(x)
		default:
			return mismatch(v)
		}
		return nil
	case *array.Float64Builder:
		switch x := v.(type) {
		case float32:
			b.Append(float64(x))
		case float64:
			b.Append(x)
		default:
			return mismatch(v)
		}
		return nil
	case *array.Decimal128Builder:
		switch x := v.(type) {
		case duckdb.Decimal:
			if x.Value == nil {
				b.AppendNull()
				return nil
			}
			b.Append(decimal128.FromBigInt(x.Value))
		case *big.Int:
			b.Append(decimal128.FromBigInt(x))
		default:
			return mismatch(v)
		}
		return nil
	case *array.BinaryBuilder:
		if x, ok := v.([]byte); ok {
			b.Append(x)
			return nil
		}
	case *array.TimestampBuilder:
		if x, ok := v.(time.Time); ok {
			ts, err := arrow.TimestampFromTime(x, b.Type().(*arrow.TimestampType).Unit)
			if err != nil {
				return err
			}
			b.Append(ts)
			return nil
		}
	case *array.Date32Builder:
		if x, ok := v.(time.Time); ok {
			b.Append(arrow.Date32FromTime(x))
			return nil
		}
	case *array.Time64Builder:
		if x, ok := v.(time.Time); ok {
			midnight := time.Date(x.Year(), x.Month(), x.Day(), 0, 0, 0, 0, x.Location())
			b.Append(arrow.Time64(x.Sub(midnight).Microseconds()))
			return nil
		}
	case *array.StringBuilder:
		if x, ok := v.(string); ok {
			b.Append(x)
			return nil
		}
		data, err := jsonpool.Marshal(jsonSafe(v))
		if err != nil {
			return err
		}
		b.Append(string(data))
		return nil
	}
	return mismatch(v)
}

func mismatch(v any) error {
	return errors.Newf(errors.ErrorTypeQuery, "unexpected result value of type %T", v)
}

// jsonSafe rewrites engine values that the JSON encoder cannot key or render
func jsonSafe(v any) any {
	switch x := v.(type) {
	case duckdb.Map:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmtKey(k)] = jsonSafe(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = jsonSafe(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = jsonSafe(val)
		}
		return out
	case duckdb.Decimal:
		if x.Value == nil {
			return nil
		}
		// emitted as a bare JSON number so no digits are lost
		return jsonpool.Number(decimal128.FromBigInt(x.Value).ToString(int32(x.Scale)))
	case *big.Int:
		return jsonpool.Number(x.String())
	default:
		return v
	}
}

func fmtKey(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	data, err := jsonpool.Marshal(jsonSafe(k))
	if err != nil {
		return ""
	}
	return string(data)
}
