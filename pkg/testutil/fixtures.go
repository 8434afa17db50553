package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/require"
)

// CharacterSchema is the Avro schema of the character fixtures
const CharacterSchema = `{
  "type": "record",
  "name": "Character",
  "namespace": "wonderland",
  "fields": [
    {"name": "character", "type": "string"},
    {"name": "age", "type": "int"},
    {"name": "is_human", "type": "boolean"},
    {"name": "height", "type": "double"},
    {"name": "quote", "type": ["null", "string"], "default": null},
    {"name": "friends", "type": {"type": "array", "items": "string"}},
    {"name": "appearance", "type": {
      "type": "record",
      "name": "Appearance",
      "fields": [
        {"name": "color", "type": "string"},
        {"name": "size", "type": "string"}
      ]
    }}
  ]
}`

// Character is one fixture row
type Character struct {
	Name    string
	Age     int32
	IsHuman bool
	Height  float64
	Quote   *string
	Friends []string
	Color   string
	Size    string
}

func quote(s string) *string { return &s }

// Characters are the rows stored by WriteCharactersAvro and WriteCharactersParquet
var Characters = []Character{
	{Name: "Alice", Age: 10, IsHuman: true, Height: 4.5, Quote: quote("Curiouser and curiouser!"),
		Friends: []string{"White Rabbit", "Cheshire Cat"}, Color: "blue", Size: "small"},
	{Name: "White Rabbit", Age: 5, IsHuman: false, Height: 1.2, Quote: quote("Oh dear! Oh dear! I shall be late!"),
		Friends: []string{"Alice"}, Color: "white", Size: "tiny"},
	{Name: "Cheshire Cat", Age: 8, IsHuman: false, Height: 2.0, Quote: nil,
		Friends: []string{"Alice", "Mad Hatter"}, Color: "purple", Size: "medium"},
}

// CharacterArrowSchema mirrors CharacterSchema as decoded into arrow
var CharacterArrowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "character", Type: arrow.BinaryTypes.String},
	{Name: "age", Type: arrow.PrimitiveTypes.Int32},
	{Name: "is_human", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "height", Type: arrow.PrimitiveTypes.Float64},
	{Name: "quote", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "friends", Type: arrow.ListOfField(arrow.Field{Name: "item", Type: arrow.BinaryTypes.String})},
	{Name: "appearance", Type: arrow.StructOf(
		arrow.Field{Name: "color", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "size", Type: arrow.BinaryTypes.String},
	)},
}, nil)

// WriteAvro encodes records under schema into dir/name and returns the path
func WriteAvro(t *testing.T, dir, name, schema, codec string, records []map[string]interface{}) string {
	t.Helper()

	var buf bytes.Buffer
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               &buf,
		Schema:          schema,
		CompressionName: codec,
		MetaData:        map[string][]byte{"origin": []byte("testutil")},
	})
	require.NoError(t, err)
	if len(records) > 0 {
		natives := make([]interface{}, len(records))
		for i, r := range records {
			natives[i] = r
		}
		require.NoError(t, w.Append(natives))
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// WriteCharactersAvro writes the character fixtures as an Avro file
func WriteCharactersAvro(t *testing.T, dir string) string {
	t.Helper()

	records := make([]map[string]interface{}, len(Characters))
	for i, c := range Characters {
		var q interface{}
		if c.Quote != nil {
			q = goavro.Union("string", *c.Quote)
		}
		friends := make([]interface{}, len(c.Friends))
		for j, f := range c.Friends {
			friends[j] = f
		}
		records[i] = map[string]interface{}{
			"character": c.Name,
			"age":       c.Age,
			"is_human":  c.IsHuman,
			"height":    c.Height,
			"quote":     q,
			"friends":   friends,
			"appearance": map[string]interface{}{
				"color": c.Color,
				"size":  c.Size,
			},
		}
	}
	return WriteAvro(t, dir, "characters.avro", CharacterSchema, "null", records)
}

// CharactersRecord builds the character fixtures as an arrow record
func CharactersRecord(t *testing.T) arrow.Record {
	t.Helper()

	rb := array.NewRecordBuilder(memory.NewGoAllocator(), CharacterArrowSchema)
	defer rb.Release()

	for _, c := range Characters {
		rb.Field(0).(*array.StringBuilder).Append(c.Name)
		rb.Field(1).(*array.Int32Builder).Append(c.Age)
		rb.Field(2).(*array.BooleanBuilder).Append(c.IsHuman)
		rb.Field(3).(*array.Float64Builder).Append(c.Height)
		if c.Quote != nil {
			rb.Field(4).(*array.StringBuilder).Append(*c.Quote)
		} else {
			rb.Field(4).AppendNull()
		}
		lb := rb.Field(5).(*array.ListBuilder)
		lb.Append(true)
		for _, f := range c.Friends {
			lb.ValueBuilder().(*array.StringBuilder).Append(f)
		}
		sb := rb.Field(6).(*array.StructBuilder)
		sb.Append(true)
		sb.FieldBuilder(0).(*array.StringBuilder).Append(c.Color)
		sb.FieldBuilder(1).(*array.StringBuilder).Append(c.Size)
	}
	return rb.NewRecord()
}

// WriteCharactersParquet writes the character fixtures as a Parquet file
func WriteCharactersParquet(t *testing.T, dir string) string {
	t.Helper()

	rec := CharactersRecord(t)
	defer rec.Release()
	return writeParquet(t, dir, "characters.parquet", rec, 0)
}

// writeParquet writes rec into dir/name with row groups of at most
// rowGroupRows rows (one row group when zero)
func writeParquet(t *testing.T, dir, name string, rec arrow.Record, rowGroupRows int64) string {
	t.Helper()

	if rowGroupRows <= 0 {
		rowGroupRows = max(rec.NumRows(), 1)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)

	props := parquet.NewWriterProperties(parquet.WithMaxRowGroupLength(rowGroupRows))
	fw, err := pqarrow.NewFileWriter(rec.Schema(), f, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	require.NoError(t, err)
	require.NoError(t, fw.AppendKeyValueMetadata("origin", "testutil"))
	require.NoError(t, fw.Write(rec))
	require.NoError(t, fw.Close())
	return path
}

// SequenceRecord builds a single-column int64 record holding 0..n-1
func SequenceRecord(n int) arrow.Record {
	b := array.NewInt64Builder(memory.NewGoAllocator())
	defer b.Release()
	for i := 0; i < n; i++ {
		b.Append(int64(i))
	}
	arr := b.NewArray()
	defer arr.Release()

	sc := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64}}, nil)
	return array.NewRecord(sc, []arrow.Array{arr}, int64(n))
}

// SequenceSchema is the Avro schema of the sequence fixtures
const SequenceSchema = `{"type":"record","name":"Sequence","fields":[{"name":"id","type":"long"}]}`

// WriteSequenceAvro writes ids from..to-1 to dir/name
func WriteSequenceAvro(t *testing.T, dir, name string, from, to int64) string {
	t.Helper()

	records := make([]map[string]interface{}, 0, to-from)
	for i := from; i < to; i++ {
		records = append(records, map[string]interface{}{"id": i})
	}
	return WriteAvro(t, dir, name, SequenceSchema, "null", records)
}

// WriteSequenceParquet writes ids 0..n-1 to dir/name in row groups of rowGroupRows
func WriteSequenceParquet(t *testing.T, dir, name string, n int, rowGroupRows int64) string {
	t.Helper()

	rec := SequenceRecord(n)
	defer rec.Release()
	return writeParquet(t, dir, name, rec, rowGroupRows)
}
