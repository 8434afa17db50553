package formats

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/linkedin/goavro/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/schema"
	"github.com/ajitpratap0/datatoolset/pkg/table"
)

const (
	// avroBlockRows is the number of records per written OCF block
	avroBlockRows = 4096
	// avroReadBatch is the record size used when a caller needs the whole file
	avroReadBatch = 65536
	// ctxCheckEvery bounds how often long scans poll for cancellation
	ctxCheckEvery = 1024
)

// AvroAdapter implements Adapter for Avro object container files
type AvroAdapter struct {
	logger *zap.Logger
}

// NewAvroAdapter creates a row-format adapter
func NewAvroAdapter(logger *zap.Logger) *AvroAdapter {
	return &AvroAdapter{logger: orNop(logger).With(zap.String("format", string(Avro)))}
}

// Format returns Avro
func (a *AvroAdapter) Format() Format {
	return Avro
}

// ValidateFormat checks the file exists, is non-empty and starts with Obj\x01
func (a *AvroAdapter) ValidateFormat(path string) error {
	return checkMagic(path, avroMagic, Avro)
}

// avroStream is an open OCF file positioned at its first block
type avroStream struct {
	file   *os.File
	ocf    *goavro.OCFReader
	root   *avroNode
	schema *arrow.Schema
}

func (s *avroStream) Close() error {
	return s.file.Close()
}

func (a *AvroAdapter) open(path string) (*avroStream, error) {
	if err := a.ValidateFormat(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // G304: user-supplied input path
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to open Avro file").WithDetail("path", path)
	}

	ocf, err := goavro.NewOCFReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to create Avro reader").WithDetail("path", path)
	}

	root, err := parseAvroSchema(string(ocf.MetaData()[avroSchemaKey]))
	if err != nil {
		f.Close()
		return nil, err
	}
	arrowSchema, err := arrowSchemaFromAvro(root)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &avroStream{file: f, ocf: ocf, root: root, schema: arrowSchema}, nil
}

// each calls fn for every datum until fn returns false or an error
func (s *avroStream) each(ctx context.Context, fn func(datum interface{}) (bool, error)) error {
	for n := 0; s.ocf.Scan(); n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		datum, err := s.ocf.Read()
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeFormat, "failed to decode Avro record %d", n)
		}
		more, err := fn(datum)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	if err := s.ocf.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFormat, "failed to read Avro block")
	}
	return nil
}

// readBatches decodes at most limit records (all when limit < 0) into
// records of batchSize rows and hands each to fn
func (a *AvroAdapter) readBatches(ctx context.Context, path string, batchSize int, limit int64, fn func(arrow.Record) error) (*arrow.Schema, error) {
	s, err := a.open(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if limit == 0 {
		return s.schema, nil
	}
	if batchSize <= 0 {
		batchSize = avroReadBatch
	}

	rb := array.NewRecordBuilder(table.Allocator, s.schema)
	defer rb.Release()

	var read int64
	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		rec := rb.NewRecord()
		defer rec.Release()
		pending = 0
		return fn(rec)
	}

	err = s.each(ctx, func(datum interface{}) (bool, error) {
		if err := appendAvroDatum(rb, s.root, datum); err != nil {
			return false, errors.Wrapf(err, errors.ErrorTypeFormat, "record %d does not match the embedded schema", read)
		}
		read++
		pending++
		if pending >= batchSize {
			if err := flush(); err != nil {
				return false, err
			}
		}
		return limit < 0 || read < limit, nil
	})
	if err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return s.schema, nil
}

func (a *AvroAdapter) collect(ctx context.Context, path string, limit int64) (arrow.Table, error) {
	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()

	sc, err := a.readBatches(ctx, path, avroReadBatch, limit, func(rec arrow.Record) error {
		rec.Retain()
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table.FromRecords(sc, recs), nil
}

// ToTable decodes every record of the file
func (a *AvroAdapter) ToTable(ctx context.Context, path string) (arrow.Table, error) {
	return a.collect(ctx, path, -1)
}

// StreamRecords decodes the file in records of batchSize rows
func (a *AvroAdapter) StreamRecords(ctx context.Context, path string, batchSize int, fn func(arrow.Record) error) error {
	_, err := a.readBatches(ctx, path, batchSize, -1, fn)
	return err
}

// Head decodes only the first n records
func (a *AvroAdapter) Head(ctx context.Context, path string, n int64) (arrow.Table, error) {
	if n < 0 {
		n = 0
	}
	return a.collect(ctx, path, n)
}

// Tail keeps a ring of the last n decoded records
func (a *AvroAdapter) Tail(ctx context.Context, path string, n int64) (arrow.Table, error) {
	s, err := a.open(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if n <= 0 {
		return table.Empty(s.schema), nil
	}

	ring := make([]interface{}, 0, min(n, avroReadBatch))
	var seen int64
	err = s.each(ctx, func(datum interface{}) (bool, error) {
		if int64(len(ring)) < n {
			ring = append(ring, datum)
		} else {
			ring[seen%n] = datum
		}
		seen++
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	rb := array.NewRecordBuilder(table.Allocator, s.schema)
	defer rb.Release()

	start := int64(0)
	if seen > n {
		start = seen % n
	}
	for i := int64(0); i < int64(len(ring)); i++ {
		datum := ring[(start+i)%int64(len(ring))]
		if err := appendAvroDatum(rb, s.root, datum); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFormat, "record does not match the embedded schema")
		}
	}
	rec := rb.NewRecord()
	defer rec.Release()
	return table.FromRecords(s.schema, []arrow.Record{rec}), nil
}

// Count sums block record counts without decoding records
func (a *AvroAdapter) Count(ctx context.Context, path string) (int64, error) {
	if err := a.ValidateFormat(path); err != nil {
		return 0, err
	}
	f, err := os.Open(path) //nolint:gosec // G304: user-supplied input path
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeIO, "failed to open Avro file").WithDetail("path", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, err := readOCFHeader(r)
	if err != nil {
		return 0, err
	}
	return countOCFBlocks(r, h.sync)
}

// ExtractMetadata reads the header and block framing only
func (a *AvroAdapter) ExtractMetadata(ctx context.Context, path string) (*schema.FileMetadata, error) {
	if err := a.ValidateFormat(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // G304: user-supplied input path
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to open Avro file").WithDetail("path", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, err := readOCFHeader(r)
	if err != nil {
		return nil, err
	}

	rawSchema := string(h.meta[avroSchemaKey])
	root, err := parseAvroSchema(rawSchema)
	if err != nil {
		return nil, err
	}
	arrowSchema, err := arrowSchemaFromAvro(root)
	if err != nil {
		return nil, err
	}

	md := &schema.FileMetadata{
		Format:         Avro,
		Schema:         schema.FromArrow(arrowSchema),
		RawSchema:      rawSchema,
		Codec:          schema.NormalizeCodec(string(h.meta[avroCodecKey])),
		KeyValue:       make(map[string]string),
		SerializedSize: fileSize(path),
	}
	for k, v := range h.meta {
		if !strings.HasPrefix(k, avroReservedPref) {
			md.KeyValue[k] = string(v)
		}
	}

	if count, err := countOCFBlocks(r, h.sync); err == nil {
		md.RecordCount = &count
	} else {
		a.logger.Debug("record count unavailable", zap.String("path", path), zap.Error(err))
	}
	return md, nil
}

// WriteTable encodes tbl as an object container file. The Avro schema is
// derived from the arrow schema.
func (a *AvroAdapter) WriteTable(ctx context.Context, tbl arrow.Table, path string, opts WriteOptions) (*WriteResult, error) {
	codec, err := schema.ParseCodec(Avro, string(opts.Codec))
	if err != nil {
		return nil, err
	}
	root, schemaJSON, warnings, err := avroSchemaFromArrow(tbl.Schema())
	if err != nil {
		return nil, err
	}
	if _, err := goavro.NewCodec(schemaJSON); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "table schema cannot be expressed in Avro")
	}
	sync, err := newSyncMarker(opts.SyncMarker)
	if err != nil {
		return nil, err
	}

	meta := map[string][]byte{
		avroSchemaKey: []byte(schemaJSON),
		avroCodecKey:  []byte(avroCodecLabel(string(codec))),
	}
	for k, v := range opts.Metadata {
		if !strings.HasPrefix(k, avroReservedPref) {
			meta[k] = []byte(v)
		}
	}

	for _, w := range warnings {
		a.logger.Warn("lossy conversion to Avro", zap.String("path", path), zap.String("detail", w))
	}

	w, f, err := a.create(path, &ocfHeader{meta: meta, sync: sync})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows int64
	batch := make([]interface{}, 0, avroBlockRows)
	err = table.ForEachRecord(tbl, func(rec arrow.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			datum, err := avroDatumFromRecord(rec, root, i)
			if err != nil {
				return err
			}
			batch = append(batch, datum)
			if len(batch) == avroBlockRows {
				if err := w.Append(batch); err != nil {
					return errors.Wrap(err, errors.ErrorTypeIO, "failed to write Avro block")
				}
				rows += int64(len(batch))
				batch = batch[:0]
			}
		}
		return nil
	})
	if err == nil && len(batch) > 0 {
		if err = w.Append(batch); err != nil {
			err = errors.Wrap(err, errors.ErrorTypeIO, "failed to write Avro block")
		}
		rows += int64(len(batch))
	}
	if err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to flush Avro file")
	}

	a.logger.Debug("wrote Avro file", zap.String("path", path), zap.Int64("rows", rows), zap.String("codec", string(codec)))
	return &WriteResult{
		Path:     path,
		Rows:     rows,
		Bytes:    fileSize(path),
		Codec:    string(codec),
		Warnings: warnings,
	}, nil
}

// create writes header h to a new file at path and returns an OCF writer
// appending blocks after it
func (a *AvroAdapter) create(path string, h *ocfHeader) (*goavro.OCFWriter, *os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // G304: user-supplied output path
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to create Avro file").WithDetail("path", path)
	}
	if err := writeOCFHeader(f, h); err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to write Avro header")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to rewind Avro file")
	}
	// goavro resumes an existing container when handed a non-empty *os.File
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: f})
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to create Avro writer")
	}
	return w, f, nil
}

// ValidateSchema checks the container, and when schemaPath is set, that every
// record encodes under that Avro schema
func (a *AvroAdapter) ValidateSchema(ctx context.Context, path, schemaPath string) error {
	if err := a.ValidateFormat(path); err != nil {
		return err
	}
	if schemaPath == "" {
		f, err := os.Open(path) //nolint:gosec // G304: user-supplied input path
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, "failed to open Avro file")
		}
		defer f.Close()
		_, err = readOCFHeader(bufio.NewReader(f))
		return err
	}

	expected, err := loadExternalSchema(schemaPath)
	if err != nil {
		return err
	}
	codec, err := goavro.NewCodec(expected)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchemaValidation, "invalid external Avro schema").
			WithDetail("schema", schemaPath)
	}

	s, err := a.open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	var n int64
	return s.each(ctx, func(datum interface{}) (bool, error) {
		if _, err := codec.BinaryFromNative(nil, datum); err != nil {
			return false, errors.Wrapf(err, errors.ErrorTypeSchemaValidation, "record %d does not conform to %s", n, schemaPath).
				WithDetail("record", n)
		}
		n++
		return true, nil
	})
}

// Merge writes one container with the first input's schema, codec and
// metadata, then appends every input's records in order
func (a *AvroAdapter) Merge(ctx context.Context, paths []string, out string) (*MergeResult, error) {
	if len(paths) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "merge requires at least one input")
	}
	for _, p := range paths {
		if err := a.ValidateFormat(p); err != nil {
			return nil, err
		}
	}

	first, err := os.Open(paths[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to open Avro file")
	}
	h, err := readOCFHeader(bufio.NewReader(first))
	first.Close()
	if err != nil {
		return nil, err
	}
	sync, err := newSyncMarker(nil)
	if err != nil {
		return nil, err
	}
	h.sync = sync

	w, f, err := a.create(out, h)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	result := &MergeResult{Output: out, Inputs: len(paths)}
	for i, p := range paths {
		n, err := a.appendFile(ctx, w, p)
		result.Rows += n
		if err != nil {
			return result, errors.Wrapf(err, errors.ErrorTypeMerge, "failed to merge input %d (%s); partial output left at %s", i, p, out).
				WithDetail("input", p)
		}
		a.logger.Debug("merged input", zap.String("input", p), zap.Int64("rows", n))
	}
	if err := f.Sync(); err != nil {
		return result, errors.Wrap(err, errors.ErrorTypeIO, "failed to flush merged file")
	}
	return result, nil
}

func (a *AvroAdapter) appendFile(ctx context.Context, w *goavro.OCFWriter, path string) (int64, error) {
	s, err := a.open(path)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	var rows int64
	batch := make([]interface{}, 0, avroBlockRows)
	err = s.each(ctx, func(datum interface{}) (bool, error) {
		batch = append(batch, datum)
		if len(batch) == avroBlockRows {
			if err := w.Append(batch); err != nil {
				return false, err
			}
			rows += int64(len(batch))
			batch = batch[:0]
		}
		return true, nil
	})
	if err != nil {
		return rows, err
	}
	if len(batch) > 0 {
		if err := w.Append(batch); err != nil {
			return rows, err
		}
		rows += int64(len(batch))
	}
	return rows, nil
}

// loadExternalSchema reads an Avro JSON schema file
func loadExternalSchema(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-supplied schema path
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeIO, "failed to read schema file").WithDetail("schema", path)
	}
	return string(data), nil
}
