// Package schema defines the passive values shared by every component:
// the schema descriptor derived from an arrow schema, file metadata and
// the per-format codec sets.
package schema

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// Format identifies a container format
type Format string

const (
	// FormatAvro is the row format (Avro object container files)
	FormatAvro Format = "avro"
	// FormatParquet is the columnar format
	FormatParquet Format = "parquet"
)

// LogicalType is the format-independent type of a column
type LogicalType string

const (
	TypeInteger   LogicalType = "integer"
	TypeFloat     LogicalType = "float"
	TypeBoolean   LogicalType = "boolean"
	TypeString    LogicalType = "string"
	TypeBytes     LogicalType = "bytes"
	TypeTimestamp LogicalType = "timestamp"
	TypeDate      LogicalType = "date"
	TypeTime      LogicalType = "time"
	TypeDecimal   LogicalType = "decimal"
	TypeList      LogicalType = "list"
	TypeMap       LogicalType = "map"
	TypeStruct    LogicalType = "struct"
	TypeNull      LogicalType = "null"
	TypeOther     LogicalType = "other"
)

// Orderable reports whether min/max are defined for values of this type
func (t LogicalType) Orderable() bool {
	switch t {
	case TypeInteger, TypeFloat, TypeBoolean, TypeString, TypeBytes,
		TypeTimestamp, TypeDate, TypeTime, TypeDecimal:
		return true
	default:
		return false
	}
}

// Nested reports whether the type carries child fields
func (t LogicalType) Nested() bool {
	return t == TypeList || t == TypeMap || t == TypeStruct
}

// Field describes one column
type Field struct {
	Name     string      `json:"name"`
	Type     LogicalType `json:"type"`
	Nullable bool        `json:"nullable"`
	// Physical is the arrow type the column is decoded into
	Physical string  `json:"physical_type"`
	Children []Field `json:"fields,omitempty"`
}

// Descriptor is the ordered column set of a file
type Descriptor struct {
	Fields []Field `json:"fields"`
}

// FromArrow derives a descriptor from an arrow schema
func FromArrow(s *arrow.Schema) *Descriptor {
	d := &Descriptor{Fields: make([]Field, 0, s.NumFields())}
	for _, f := range s.Fields() {
		d.Fields = append(d.Fields, fieldFromArrow(f))
	}
	return d
}

func fieldFromArrow(f arrow.Field) Field {
	out := Field{
		Name:     f.Name,
		Type:     LogicalTypeOf(f.Type),
		Nullable: f.Nullable,
		Physical: f.Type.String(),
	}
	switch dt := f.Type.(type) {
	case *arrow.StructType:
		for _, child := range dt.Fields() {
			out.Children = append(out.Children, fieldFromArrow(child))
		}
	case *arrow.MapType:
		out.Children = []Field{
			fieldFromArrow(dt.KeyField()),
			fieldFromArrow(dt.ItemField()),
		}
	case arrow.ListLikeType:
		out.Children = []Field{fieldFromArrow(dt.ElemField())}
	}
	return out
}

// LogicalTypeOf classifies an arrow data type
func LogicalTypeOf(dt arrow.DataType) LogicalType {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return TypeInteger
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return TypeFloat
	case arrow.BOOL:
		return TypeBoolean
	case arrow.STRING, arrow.LARGE_STRING, arrow.STRING_VIEW:
		return TypeString
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY, arrow.BINARY_VIEW:
		return TypeBytes
	case arrow.TIMESTAMP:
		return TypeTimestamp
	case arrow.DATE32, arrow.DATE64:
		return TypeDate
	case arrow.TIME32, arrow.TIME64:
		return TypeTime
	case arrow.DECIMAL128, arrow.DECIMAL256:
		return TypeDecimal
	case arrow.LIST, arrow.LARGE_LIST, arrow.FIXED_SIZE_LIST, arrow.LIST_VIEW, arrow.LARGE_LIST_VIEW:
		return TypeList
	case arrow.MAP:
		return TypeMap
	case arrow.STRUCT:
		return TypeStruct
	case arrow.NULL:
		return TypeNull
	default:
		return TypeOther
	}
}

// Names returns the column names in order
func (d *Descriptor) Names() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the named top-level field
func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// String renders one line per column, nested fields indented
func (d *Descriptor) String() string {
	var b strings.Builder
	for _, f := range d.Fields {
		writeField(&b, f, 0)
	}
	return b.String()
}

func writeField(b *strings.Builder, f Field, depth int) {
	null := ""
	if f.Nullable {
		null = " (nullable)"
	}
	fmt.Fprintf(b, "%s%s: %s%s\n", strings.Repeat("  ", depth), f.Name, f.Physical, null)
	if f.Type == TypeStruct {
		for _, c := range f.Children {
			writeField(b, c, depth+1)
		}
	}
}
