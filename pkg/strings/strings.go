// Package strings provides pooled string building for the textual outputs:
// CSV rows, SQL statements and cell rendering.
package strings

import (
	"encoding/base64"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	jsonpool "github.com/ajitpratap0/datatoolset/pkg/json"
)

// Builder provides efficient string building over a reusable byte buffer
type Builder struct {
	buf []byte
}

// NewBuilder creates a new string builder
func NewBuilder(capacity int) *Builder {
	return &Builder{
		buf: make([]byte, 0, capacity),
	}
}

// WriteString appends a string to the builder
func (b *Builder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// WriteByte appends a single byte
func (b *Builder) WriteByte(c byte) {
	b.buf = append(b.buf, c)
}

// Write implements io.Writer interface
func (b *Builder) Write(p []byte) (n int, err error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns a copy of the built string
func (b *Builder) String() string {
	return string(b.buf)
}

// Bytes returns the underlying byte slice
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Len returns the length of the built string
func (b *Builder) Len() int {
	return len(b.buf)
}

// Reset resets the builder for reuse
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
}

var (
	// Small strings (< 1KB) - identifiers, statements
	smallBuilderPool = &sync.Pool{
		New: func() interface{} {
			return NewBuilder(1024)
		},
	}

	// Medium strings (1KB - 16KB) - CSV rows
	mediumBuilderPool = &sync.Pool{
		New: func() interface{} {
			return NewBuilder(16 * 1024)
		},
	}

	// Large strings (16KB+) - rows with large nested values
	largeBuilderPool = &sync.Pool{
		New: func() interface{} {
			return NewBuilder(64 * 1024)
		},
	}
)

// BuilderSize represents different builder sizes
type BuilderSize int

const (
	Small  BuilderSize = iota // < 1KB
	Medium                    // 1KB - 16KB
	Large                     // 16KB+
)

func poolFor(size BuilderSize) *sync.Pool {
	switch size {
	case Medium:
		return mediumBuilderPool
	case Large:
		return largeBuilderPool
	default:
		return smallBuilderPool
	}
}

// GetBuilder retrieves a pooled builder of the specified size
func GetBuilder(size BuilderSize) *Builder {
	builder := poolFor(size).Get().(*Builder)
	builder.Reset()
	return builder
}

// PutBuilder returns a builder to the appropriate pool
func PutBuilder(builder *Builder, size BuilderSize) {
	if builder == nil {
		return
	}
	builder.Reset()
	poolFor(size).Put(builder)
}

// ========== Specialized String Builders ==========

// CSVDialect describes the CSV flavor written by CSVBuilder
type CSVDialect struct {
	Separator      string
	Quote          string
	LineTerminator string
}

// DefaultCSVDialect is comma separated, double-quoted, LF terminated
var DefaultCSVDialect = CSVDialect{Separator: ",", Quote: `"`, LineTerminator: "\n"}

// CSVBuilder streams CSV rows to a writer, one pooled buffer per row
type CSVBuilder struct {
	w        io.Writer
	dialect  CSVDialect
	rowCount int
}

// NewCSVBuilder creates a CSV builder writing to w. Empty dialect fields
// take their DefaultCSVDialect value.
func NewCSVBuilder(w io.Writer, dialect CSVDialect) *CSVBuilder {
	if dialect.Separator == "" {
		dialect.Separator = DefaultCSVDialect.Separator
	}
	if dialect.Quote == "" {
		dialect.Quote = DefaultCSVDialect.Quote
	}
	if dialect.LineTerminator == "" {
		dialect.LineTerminator = DefaultCSVDialect.LineTerminator
	}
	return &CSVBuilder{w: w, dialect: dialect}
}

// WriteHeader writes the header row. It is not counted as a data row.
func (cb *CSVBuilder) WriteHeader(headers []string) error {
	return cb.write(headers)
}

// WriteRow writes a CSV row
func (cb *CSVBuilder) WriteRow(fields []string) error {
	if err := cb.write(fields); err != nil {
		return err
	}
	cb.rowCount++
	return nil
}

// Rows returns the number of data rows written
func (cb *CSVBuilder) Rows() int {
	return cb.rowCount
}

func (cb *CSVBuilder) write(fields []string) error {
	builder := GetBuilder(Medium)
	defer PutBuilder(builder, Medium)

	for i, field := range fields {
		if i > 0 {
			builder.WriteString(cb.dialect.Separator)
		}
		cb.writeCSVField(builder, field)
	}
	builder.WriteString(cb.dialect.LineTerminator)

	_, err := cb.w.Write(builder.Bytes())
	return err
}

// writeCSVField writes a single CSV field, quoting it when it contains the
// separator, the quote character, a line break or the dialect's line terminator
func (cb *CSVBuilder) writeCSVField(builder *Builder, field string) {
	q, term := cb.dialect.Quote, cb.dialect.LineTerminator
	needsQuoting := strings.Contains(field, cb.dialect.Separator) ||
		strings.Contains(field, q) ||
		strings.ContainsAny(field, "\r\n") ||
		strings.Contains(field, term)
	if !needsQuoting {
		builder.WriteString(field)
		return
	}

	builder.WriteString(q)
	builder.WriteString(strings.ReplaceAll(field, q, q+q))
	builder.WriteString(q)
}

// SQLBuilder provides SQL statement building with literal and identifier quoting
type SQLBuilder struct {
	builder *Builder
}

// NewSQLBuilder creates a new SQL builder
func NewSQLBuilder() *SQLBuilder {
	return &SQLBuilder{builder: GetBuilder(Small)}
}

// WriteQuery writes a SQL query part
func (sb *SQLBuilder) WriteQuery(query string) *SQLBuilder {
	sb.builder.WriteString(query)
	return sb
}

// WriteSpace adds a space
func (sb *SQLBuilder) WriteSpace() *SQLBuilder {
	sb.builder.WriteByte(' ')
	return sb
}

// WriteStringLiteral writes a single-quoted string literal
func (sb *SQLBuilder) WriteStringLiteral(value string) *SQLBuilder {
	sb.builder.WriteByte('\'')
	sb.builder.WriteString(strings.ReplaceAll(value, "'", "''"))
	sb.builder.WriteByte('\'')
	return sb
}

// WriteIdentifier writes a double-quoted identifier
func (sb *SQLBuilder) WriteIdentifier(name string) *SQLBuilder {
	sb.builder.WriteByte('"')
	sb.builder.WriteString(strings.ReplaceAll(name, `"`, `""`))
	sb.builder.WriteByte('"')
	return sb
}

// String returns the built SQL statement
func (sb *SQLBuilder) String() string {
	return sb.builder.String()
}

// Close releases the builder back to the pool
func (sb *SQLBuilder) Close() {
	if sb.builder != nil {
		PutBuilder(sb.builder, Small)
		sb.builder = nil
	}
}

// ========== Cell Rendering ==========

// ValueToString renders a cell value as text. Nulls are empty, timestamps
// are RFC 3339 with nanoseconds, bytes are base64 and nested values are JSON.
func ValueToString(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []byte:
		return base64.StdEncoding.EncodeToString(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		data, err := jsonpool.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
