package table

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T, chunks ...[]int64) arrow.Table {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	}, nil)

	var recs []arrow.Record
	for _, chunk := range chunks {
		b := array.NewRecordBuilder(Allocator, schema)
		b.Field(0).(*array.Int64Builder).AppendValues(chunk, nil)
		recs = append(recs, b.NewRecord())
		b.Release()
	}
	tbl := FromRecords(schema, recs)
	for _, r := range recs {
		r.Release()
	}
	return tbl
}

func ids(t *testing.T, tbl arrow.Table) []int64 {
	t.Helper()
	var out []int64
	require.NoError(t, ForEachRow(tbl, func(row map[string]any) error {
		out = append(out, row["id"].(int64))
		return nil
	}))
	return out
}

func TestSlice(t *testing.T) {
	tbl := buildTable(t, []int64{0, 1, 2}, []int64{3, 4}, []int64{5, 6, 7, 8})
	defer tbl.Release()

	tests := []struct {
		name   string
		offset int64
		n      int64
		want   []int64
	}{
		{"within first chunk", 0, 2, []int64{0, 1}},
		{"across chunks", 2, 4, []int64{2, 3, 4, 5}},
		{"past end clipped", 7, 10, []int64{7, 8}},
		{"zero rows", 3, 0, nil},
		{"offset beyond table", 20, 3, nil},
		{"negative n means rest", 6, -1, []int64{6, 7, 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Slice(tbl, tt.offset, tt.n)
			defer s.Release()
			assert.Equal(t, int64(len(tt.want)), s.NumRows())
			assert.Equal(t, tt.want, ids(t, s))
		})
	}
}

func TestHeadTail(t *testing.T) {
	tbl := buildTable(t, []int64{0, 1, 2}, []int64{3, 4})
	defer tbl.Release()

	h := Head(tbl, 0)
	assert.Equal(t, int64(0), h.NumRows())
	h.Release()

	h = Head(tbl, 100)
	assert.Equal(t, int64(5), h.NumRows())
	h.Release()

	tl := Tail(tbl, 3)
	assert.Equal(t, []int64{2, 3, 4}, ids(t, tl))
	tl.Release()

	tl = Tail(tbl, 10)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, ids(t, tl))
	tl.Release()
}

func TestRecordsRechunks(t *testing.T) {
	tbl := buildTable(t, []int64{0, 1, 2, 3, 4, 5, 6})
	defer tbl.Release()

	recs := Records(tbl, 3)
	require.Len(t, recs, 3)
	assert.Equal(t, int64(3), recs[0].NumRows())
	assert.Equal(t, int64(1), recs[2].NumRows())
	for _, r := range recs {
		r.Release()
	}
}

func TestEmpty(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.BinaryTypes.String}}, nil)
	tbl := Empty(schema)
	defer tbl.Release()
	assert.Equal(t, int64(0), tbl.NumRows())
	assert.True(t, tbl.Schema().Equal(schema))
}

func TestValueAt(t *testing.T) {
	appearance := arrow.StructOf(
		arrow.Field{Name: "color", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "size", Type: arrow.PrimitiveTypes.Int32},
	)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "friends", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
		{Name: "appearance", Type: appearance},
		{Name: "tags", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64)},
		{Name: "born", Type: &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}},
		{Name: "day", Type: arrow.FixedWidthTypes.Date32},
		{Name: "price", Type: &arrow.Decimal128Type{Precision: 10, Scale: 2}},
		{Name: "blob", Type: arrow.BinaryTypes.Binary},
	}, nil)

	b := array.NewRecordBuilder(Allocator, schema)
	defer b.Release()

	lb := b.Field(0).(*array.ListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.StringBuilder).AppendValues([]string{"Bob", "Carol"}, nil)
	lb.AppendNull()

	sb := b.Field(1).(*array.StructBuilder)
	for _, v := range []struct {
		color string
		size  int32
	}{{"blue", 5}, {"red", 6}} {
		sb.Append(true)
		sb.FieldBuilder(0).(*array.StringBuilder).Append(v.color)
		sb.FieldBuilder(1).(*array.Int32Builder).Append(v.size)
	}

	mb := b.Field(2).(*array.MapBuilder)
	mb.Append(true)
	mb.KeyBuilder().(*array.StringBuilder).Append("k")
	mb.ItemBuilder().(*array.Int64Builder).Append(1)
	mb.Append(true)

	born := time.Date(2020, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	ts, err := arrow.TimestampFromTime(born, arrow.Millisecond)
	require.NoError(t, err)
	b.Field(3).(*array.TimestampBuilder).AppendValues([]arrow.Timestamp{ts, ts}, nil)
	b.Field(4).(*array.Date32Builder).AppendValues([]arrow.Date32{arrow.Date32FromTime(born), 0}, nil)
	b.Field(5).(*array.Decimal128Builder).AppendValues([]decimal128.Num{decimal128.FromI64(12345), decimal128.FromI64(-5)}, nil)
	b.Field(6).(*array.BinaryBuilder).AppendValues([][]byte{[]byte("ab"), nil}, []bool{true, false})

	rec := b.NewRecord()
	defer rec.Release()

	row := Row(rec, 0)
	assert.Equal(t, []any{"Bob", "Carol"}, row["friends"])
	assert.Equal(t, map[string]any{"color": "blue", "size": int64(5)}, row["appearance"])
	assert.Equal(t, map[string]any{"k": int64(1)}, row["tags"])
	assert.True(t, born.Equal(row["born"].(time.Time)))
	assert.Equal(t, "2020-01-02", row["day"])
	assert.Equal(t, "123.45", row["price"])
	assert.Equal(t, []byte("ab"), row["blob"])

	second := RowValues(rec, 1)
	assert.Nil(t, second[0])
	assert.Equal(t, map[string]any{"color": "red", "size": int64(6)}, second[1])
	assert.Equal(t, map[string]any{}, second[2])
	assert.Equal(t, "1970-01-01", second[4])
	assert.Equal(t, "-0.05", second[5])
	assert.Nil(t, second[6])
}
