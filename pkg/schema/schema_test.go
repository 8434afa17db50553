package schema

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
)

func TestFromArrow(t *testing.T) {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "character", Type: arrow.BinaryTypes.String},
		{Name: "age", Type: arrow.PrimitiveTypes.Int32},
		{Name: "height", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "friends", Type: arrow.ListOf(arrow.BinaryTypes.String)},
		{Name: "appearance", Type: arrow.StructOf(
			arrow.Field{Name: "color", Type: arrow.BinaryTypes.String},
			arrow.Field{Name: "size", Type: arrow.BinaryTypes.String},
		)},
		{Name: "born", Type: &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}},
	}, nil)

	d := FromArrow(s)
	require.Len(t, d.Fields, 6)
	assert.Equal(t, []string{"character", "age", "height", "friends", "appearance", "born"}, d.Names())

	tests := []struct {
		name      string
		want      LogicalType
		nullable  bool
		orderable bool
		children  int
	}{
		{"character", TypeString, false, true, 0},
		{"age", TypeInteger, false, true, 0},
		{"height", TypeFloat, true, true, 0},
		{"friends", TypeList, false, false, 1},
		{"appearance", TypeStruct, false, false, 2},
		{"born", TypeTimestamp, false, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := d.Field(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.want, f.Type)
			assert.Equal(t, tt.nullable, f.Nullable)
			assert.Equal(t, tt.orderable, f.Type.Orderable())
			assert.Len(t, f.Children, tt.children)
		})
	}

	_, ok := d.Field("missing")
	assert.False(t, ok)
}

func TestDescriptorString(t *testing.T) {
	s := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "nested", Type: arrow.StructOf(arrow.Field{Name: "x", Type: arrow.FixedWidthTypes.Boolean, Nullable: true})},
	}, nil)

	assert.Equal(t, "id: int64\nnested: struct<x: bool>\n  x: bool (nullable)\n", FromArrow(s).String())
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		format  Format
		name    string
		want    Codec
		wantErr bool
	}{
		{FormatAvro, "", CodecUncompressed, false},
		{FormatAvro, "null", CodecUncompressed, false},
		{FormatAvro, "Snappy", CodecSnappy, false},
		{FormatAvro, "deflate", CodecDeflate, false},
		{FormatAvro, "zstd", "", true},
		{FormatAvro, "gzip", "", true},
		{FormatParquet, "gzip", CodecGzip, false},
		{FormatParquet, "lzo", "", true},
		{FormatParquet, "zstandard", CodecZstd, false},
		{FormatParquet, "deflate", "", true},
		{FormatParquet, "bogus", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.format)+"/"+tt.name, func(t *testing.T) {
			got, err := ParseCodec(tt.format, tt.name)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWritableCodecsIsCopy(t *testing.T) {
	codecs := WritableCodecs(FormatAvro)
	codecs[0] = "mutated"
	assert.Equal(t, CodecUncompressed, WritableCodecs(FormatAvro)[0])
}
