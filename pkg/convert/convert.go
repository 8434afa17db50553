// Package convert re-encodes decoded tables: to CSV and JSON text, and into
// the other container format through its adapter.
package convert

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/datatoolset/pkg/compression"
	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/formats"
	jsonpool "github.com/ajitpratap0/datatoolset/pkg/json"
	"github.com/ajitpratap0/datatoolset/pkg/schema"
	stringpool "github.com/ajitpratap0/datatoolset/pkg/strings"
	"github.com/ajitpratap0/datatoolset/pkg/table"
)

// PrettyIndent is the indent used for pretty-printed JSON
const PrettyIndent = "    "

// CSVOptions configures ToCSV. Empty strings select the defaults
// (comma, double quote, LF).
type CSVOptions struct {
	Separator      string
	Quote          string
	LineTerminator string
	Header         bool
}

// DefaultCSVOptions returns comma separated, double-quoted output with a header
func DefaultCSVOptions() CSVOptions {
	d := stringpool.DefaultCSVDialect
	return CSVOptions{Separator: d.Separator, Quote: d.Quote, LineTerminator: d.LineTerminator, Header: true}
}

// JSONOptions configures ToJSON
type JSONOptions struct {
	Pretty bool
}

// Result reports the outcome of a conversion
type Result struct {
	Path        string   `json:"path"`
	Format      string   `json:"format"`
	Rows        int64    `json:"rows"`
	Bytes       int64    `json:"bytes"`
	Codec       string   `json:"codec,omitempty"`
	Compression string   `json:"compression,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// ToCSV writes tbl as CSV. Nulls are empty fields and nested values are JSON.
func ToCSV(ctx context.Context, tbl arrow.Table, w io.Writer, opts CSVOptions) (int64, error) {
	cb := stringpool.NewCSVBuilder(w, stringpool.CSVDialect{
		Separator:      opts.Separator,
		Quote:          opts.Quote,
		LineTerminator: opts.LineTerminator,
	})

	if opts.Header {
		names := make([]string, tbl.NumCols())
		for i, f := range tbl.Schema().Fields() {
			names[i] = f.Name
		}
		if err := cb.WriteHeader(names); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeIO, "failed to write CSV header")
		}
	}

	fields := make([]string, tbl.NumCols())
	err := table.ForEachRecord(tbl, func(rec arrow.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			for c, v := range table.RowValues(rec, i) {
				fields[c] = stringpool.ValueToString(v)
			}
			if err := cb.WriteRow(fields); err != nil {
				return errors.Wrap(err, errors.ErrorTypeIO, "failed to write CSV row")
			}
		}
		return nil
	})
	return int64(cb.Rows()), err
}

// ToJSON writes tbl as a JSON array of row objects with sorted keys.
// Timestamps are RFC 3339 and bytes base64.
func ToJSON(ctx context.Context, tbl arrow.Table, w io.Writer, opts JSONOptions) (int64, error) {
	indent := ""
	if opts.Pretty {
		indent = PrettyIndent
	}
	enc := jsonpool.NewStreamingEncoder(w, indent)

	err := table.ForEachRow(tbl, func(row map[string]any) error {
		if enc.Count()%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return enc.Encode(row)
	})
	if err != nil {
		return int64(enc.Count()), errors.Wrap(err, errors.ErrorTypeIO, "failed to write JSON")
	}
	if err := enc.Close(); err != nil {
		return int64(enc.Count()), errors.Wrap(err, errors.ErrorTypeIO, "failed to write JSON")
	}
	return int64(enc.Count()), nil
}

// WriteText creates path and runs encode against it, through alg when set.
// encode returns the number of rows it wrote.
func WriteText(path string, alg compression.Algorithm, encode func(io.Writer) (int64, error)) (*Result, error) {
	f, err := os.Create(path) //nolint:gosec // G304: user-supplied output path
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to create output file").WithDetail("path", path)
	}
	defer f.Close()

	buffered := bufio.NewWriterSize(f, 64*1024)
	cw, err := compression.NewWriter(buffered, alg, compression.Default)
	if err != nil {
		return nil, err
	}

	rows, err := encode(cw)
	if err != nil {
		return nil, err
	}
	if err := cw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to finish compressed output")
	}
	if err := buffered.Flush(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to flush output").WithDetail("path", path)
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to close output").WithDetail("path", path)
	}

	res := &Result{Path: path, Rows: rows}
	if alg != compression.None && alg != "" {
		res.Compression = string(alg)
	}
	if info, err := os.Stat(path); err == nil {
		res.Bytes = info.Size()
	}
	return res, nil
}

// CSVFile writes tbl to a CSV file at path
func CSVFile(ctx context.Context, tbl arrow.Table, path string, opts CSVOptions, alg compression.Algorithm) (*Result, error) {
	res, err := WriteText(path, alg, func(w io.Writer) (int64, error) {
		return ToCSV(ctx, tbl, w, opts)
	})
	if err != nil {
		return nil, err
	}
	res.Format = "csv"
	return res, nil
}

// JSONFile writes tbl to a JSON file at path
func JSONFile(ctx context.Context, tbl arrow.Table, path string, opts JSONOptions, alg compression.Algorithm) (*Result, error) {
	res, err := WriteText(path, alg, func(w io.Writer) (int64, error) {
		return ToJSON(ctx, tbl, w, opts)
	})
	if err != nil {
		return nil, err
	}
	res.Format = "json"
	return res, nil
}

// ToContainer encodes tbl with target. Conversion warnings, such as
// timestamp precision the target cannot hold, are carried in the result.
func ToContainer(ctx context.Context, tbl arrow.Table, target formats.Adapter, path string, codec schema.Codec) (*Result, error) {
	wr, err := target.WriteTable(ctx, tbl, path, formats.WriteOptions{Codec: codec})
	if err != nil {
		return nil, err
	}
	return &Result{
		Path:     wr.Path,
		Format:   string(target.Format()),
		Rows:     wr.Rows,
		Bytes:    wr.Bytes,
		Codec:    wr.Codec,
		Warnings: wr.Warnings,
	}, nil
}
