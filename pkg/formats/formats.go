// Package formats provides the data-access adapters for the two container
// formats: Avro object container files (row format) and Parquet (columnar
// format). Every adapter decodes into and encodes from arrow tables.
package formats

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/schema"
)

// Format represents a container format
type Format = schema.Format

const (
	// Avro is the Apache Avro object container format
	Avro = schema.FormatAvro
	// Parquet is the Apache Parquet format
	Parquet = schema.FormatParquet
)

// Adapter translates between a container file and arrow tables
type Adapter interface {
	// Format returns the container format
	Format() Format
	// ValidateFormat checks existence, non-emptiness and magic bytes
	ValidateFormat(path string) error
	// ToTable decodes the whole file
	ToTable(ctx context.Context, path string) (arrow.Table, error)
	// Head returns the first n rows
	Head(ctx context.Context, path string, n int64) (arrow.Table, error)
	// Tail returns the last n rows in file order
	Tail(ctx context.Context, path string, n int64) (arrow.Table, error)
	// Count returns the number of rows
	Count(ctx context.Context, path string) (int64, error)
	// ExtractMetadata reads only the header or footer
	ExtractMetadata(ctx context.Context, path string) (*schema.FileMetadata, error)
	// StreamRecords decodes the file in records of bounded size. Records are
	// released after fn returns; fn must Retain anything it keeps.
	StreamRecords(ctx context.Context, path string, batchSize int, fn func(arrow.Record) error) error
	// WriteTable encodes tbl into a new file at path
	WriteTable(ctx context.Context, tbl arrow.Table, path string, opts WriteOptions) (*WriteResult, error)
	// ValidateSchema checks the file, and its content against an external
	// Avro JSON schema when schemaPath is not empty
	ValidateSchema(ctx context.Context, path, schemaPath string) error
	// Merge concatenates the records of paths into out
	Merge(ctx context.Context, paths []string, out string) (*MergeResult, error)
}

// WriteOptions configures WriteTable
type WriteOptions struct {
	Codec schema.Codec
	// SyncMarker fixes the row-format block marker for reproducible output
	SyncMarker []byte
	// Metadata is stored as user key/value metadata
	Metadata map[string]string
}

// WriteResult reports the outcome of WriteTable
type WriteResult struct {
	Path     string   `json:"path"`
	Rows     int64    `json:"rows"`
	Bytes    int64    `json:"bytes"`
	Codec    string   `json:"codec"`
	Warnings []string `json:"warnings,omitempty"`
}

// MergeResult reports the outcome of Merge
type MergeResult struct {
	Output string `json:"output"`
	Inputs int    `json:"inputs"`
	Rows   int64  `json:"rows"`
}

// Detect resolves the format of path from its extension
func Detect(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".avro":
		return Avro, nil
	case ".parquet":
		return Parquet, nil
	default:
		return "", errors.Newf(errors.ErrorTypeFormat, "unsupported file format: %s", path).
			WithDetail("path", path)
	}
}

// ForFormat returns the adapter for f
func ForFormat(f Format, logger *zap.Logger) (Adapter, error) {
	switch f {
	case Avro:
		return NewAvroAdapter(logger), nil
	case Parquet:
		return NewParquetAdapter(logger), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeFormat, "unsupported file format: %s", f)
	}
}

// ForPath returns the adapter matching the extension of path
func ForPath(path string, logger *zap.Logger) (Adapter, error) {
	f, err := Detect(path)
	if err != nil {
		return nil, err
	}
	return ForFormat(f, logger)
}

// checkMagic verifies that path exists, is not empty and starts with magic
func checkMagic(path string, magic []byte, f Format) error {
	file, err := os.Open(path) //nolint:gosec // G304: user-supplied input path
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFormat, "cannot open %s file", f).WithDetail("path", path)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFormat, "cannot stat %s file", f).WithDetail("path", path)
	}
	if info.IsDir() {
		return errors.Newf(errors.ErrorTypeFormat, "%s is a directory", path).WithDetail("path", path)
	}
	if info.Size() == 0 {
		return errors.Newf(errors.ErrorTypeFormat, "%s file is empty", f).WithDetail("path", path)
	}

	head := make([]byte, len(magic))
	if _, err := io.ReadFull(file, head); err != nil || !bytes.Equal(head, magic) {
		return errors.Newf(errors.ErrorTypeFormat, "file does not start with the %s magic bytes", f).
			WithDetail("path", path)
	}
	return nil
}

// fileSize returns the size of path in bytes
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
