package schema

import (
	"strings"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
)

// Codec is the compression applied to a container's payload
type Codec string

const (
	CodecUncompressed Codec = "uncompressed"
	CodecSnappy       Codec = "snappy"
	CodecDeflate      Codec = "deflate"
	CodecGzip         Codec = "gzip"
	CodecLZ4          Codec = "lz4"
	CodecBrotli       Codec = "brotli"
	CodecZstd         Codec = "zstd"
	// Readable in metadata only; neither writer produces them. arrow-go
	// has no LZO encoder.
	CodecLZO   Codec = "lzo"
	CodecBzip2 Codec = "bzip2"
	CodecXZ    Codec = "xz"
)

var writableCodecs = map[Format][]Codec{
	FormatAvro:    {CodecUncompressed, CodecSnappy, CodecDeflate},
	FormatParquet: {CodecUncompressed, CodecSnappy, CodecGzip, CodecLZ4, CodecBrotli, CodecZstd},
}

// WritableCodecs returns the codecs a writer of format f accepts
func WritableCodecs(f Format) []Codec {
	return append([]Codec(nil), writableCodecs[f]...)
}

// ParseCodec resolves a user-supplied codec name for format f. An empty
// name selects uncompressed. Unknown or disallowed names are configuration
// errors.
func ParseCodec(f Format, name string) (Codec, error) {
	c := NormalizeCodec(name)
	for _, allowed := range writableCodecs[f] {
		if c == allowed {
			return c, nil
		}
	}
	names := make([]string, 0, len(writableCodecs[f]))
	for _, allowed := range writableCodecs[f] {
		names = append(names, string(allowed))
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unsupported codec %q for %s, expected one of: %s",
		name, f, strings.Join(names, ", ")).
		WithDetail("format", string(f))
}

// NormalizeCodec maps aliases used by the file formats onto Codec values
func NormalizeCodec(name string) Codec {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "none", "null", "uncompressed":
		return CodecUncompressed
	case "zstandard":
		return CodecZstd
	case "lz4_raw":
		return CodecLZ4
	default:
		return Codec(n)
	}
}
