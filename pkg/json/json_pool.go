// Package json provides JSON serialization backed by goccy/go-json with
// pooled buffers and a streaming array encoder
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// maxPooledBuffer is the largest buffer returned to the pool
const maxPooledBuffer = 1024 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent is a drop-in replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// UnmarshalNumber decodes data keeping numbers as json.Number, so integers
// such as Avro decimal precision survive without float rounding
func UnmarshalNumber(data []byte, v interface{}) error {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Number is goccy's json.Number
type Number = gojson.Number

// MarshalToWriter writes v followed by a newline, without HTML escaping
func MarshalToWriter(w io.Writer, v interface{}) error {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// StreamingEncoder writes values as elements of a single JSON array
// without holding the whole array in memory
type StreamingEncoder struct {
	writer io.Writer
	count  int
	indent string
	err    error
}

// NewStreamingEncoder creates a new streaming array encoder. A non-empty
// indent pretty-prints the array with that indent per level.
func NewStreamingEncoder(w io.Writer, indent string) *StreamingEncoder {
	return &StreamingEncoder{writer: w, indent: indent}
}

// Encode appends a single value to the array
func (se *StreamingEncoder) Encode(v interface{}) error {
	if se.err != nil {
		return se.err
	}

	var (
		data []byte
		err  error
	)
	if se.indent != "" {
		data, err = gojson.MarshalIndentWithOption(v, se.indent, se.indent, gojson.DisableHTMLEscape())
	} else {
		data, err = gojson.MarshalWithOption(v, gojson.DisableHTMLEscape())
	}
	if err != nil {
		se.err = err
		return err
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	switch {
	case se.count == 0:
		buf.WriteByte('[')
	default:
		buf.WriteByte(',')
	}
	if se.indent != "" {
		buf.WriteByte('\n')
		buf.WriteString(se.indent)
	}
	buf.Write(data)
	se.count++

	_, se.err = se.writer.Write(buf.Bytes())
	return se.err
}

// Count returns the number of encoded values
func (se *StreamingEncoder) Count() int {
	return se.count
}

// Close finalizes the array
func (se *StreamingEncoder) Close() error {
	if se.err != nil {
		return se.err
	}
	var tail string
	switch {
	case se.count == 0:
		tail = "[]"
	case se.indent != "":
		tail = "\n]"
	default:
		tail = "]"
	}
	_, se.err = io.WriteString(se.writer, tail)
	return se.err
}
