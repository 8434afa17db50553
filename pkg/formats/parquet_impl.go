package formats

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/schema"
	"github.com/ajitpratap0/datatoolset/pkg/table"
)

const (
	// parquetRowGroupRows is the row group size used by the writer
	parquetRowGroupRows = 128 * 1024
	// arrowSchemaKey is the footer entry pqarrow uses to round-trip arrow types
	arrowSchemaKey = "ARROW:schema"
	createdBy      = "datatoolset"
)

var parquetMagic = []byte("PAR1")

// ParquetAdapter implements Adapter for Parquet files
type ParquetAdapter struct {
	logger *zap.Logger
}

// NewParquetAdapter creates a columnar-format adapter
func NewParquetAdapter(logger *zap.Logger) *ParquetAdapter {
	return &ParquetAdapter{logger: orNop(logger).With(zap.String("format", string(Parquet)))}
}

// Format returns Parquet
func (p *ParquetAdapter) Format() Format {
	return Parquet
}

// ValidateFormat checks the file exists, is non-empty and starts with PAR1
func (p *ParquetAdapter) ValidateFormat(path string) error {
	return checkMagic(path, parquetMagic, Parquet)
}

// parquetFile pairs the low-level reader with its arrow view
type parquetFile struct {
	rdr    *file.Reader
	fr     *pqarrow.FileReader
	schema *arrow.Schema
}

func (f *parquetFile) Close() error {
	return f.rdr.Close()
}

func (p *ParquetAdapter) open(path string) (*parquetFile, error) {
	if err := p.ValidateFormat(path); err != nil {
		return nil, err
	}
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to open Parquet file").WithDetail("path", path)
	}
	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, table.Allocator)
	if err != nil {
		rdr.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to create Parquet reader").WithDetail("path", path)
	}
	sc, err := fr.Schema()
	if err != nil {
		rdr.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read Parquet schema").WithDetail("path", path)
	}
	return &parquetFile{rdr: rdr, fr: fr, schema: sc}, nil
}

// ToTable reads every row group
func (p *ParquetAdapter) ToTable(ctx context.Context, path string) (arrow.Table, error) {
	f, err := p.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tbl, err := f.fr.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to decode Parquet file").WithDetail("path", path)
	}
	return tbl, nil
}

// readRowGroups decodes only the listed row groups
func (f *parquetFile) readRowGroups(ctx context.Context, groups []int) (arrow.Table, error) {
	if len(groups) == 0 {
		return table.Empty(f.schema), nil
	}
	cols := make([]int, f.rdr.MetaData().Schema.NumColumns())
	for i := range cols {
		cols[i] = i
	}
	tbl, err := f.fr.ReadRowGroups(ctx, cols, groups)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to decode Parquet row groups")
	}
	return tbl, nil
}

// StreamRecords decodes one row group at a time, re-chunked to batchSize rows
func (p *ParquetAdapter) StreamRecords(ctx context.Context, path string, batchSize int, fn func(arrow.Record) error) error {
	f, err := p.open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for rg := 0; rg < f.rdr.NumRowGroups(); rg++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tbl, err := f.readRowGroups(ctx, []int{rg})
		if err != nil {
			return err
		}
		recs := table.Records(tbl, int64(batchSize))
		tbl.Release()

		for i, rec := range recs {
			err = fn(rec)
			rec.Release()
			if err != nil {
				for _, rest := range recs[i+1:] {
					rest.Release()
				}
				return err
			}
		}
	}
	return nil
}

// Head reads only the leading row groups that cover n rows
func (p *ParquetAdapter) Head(ctx context.Context, path string, n int64) (arrow.Table, error) {
	f, err := p.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if n <= 0 {
		return table.Empty(f.schema), nil
	}
	md := f.rdr.MetaData()
	var groups []int
	var covered int64
	for rg := 0; rg < md.NumRowGroups() && covered < n; rg++ {
		groups = append(groups, rg)
		covered += md.RowGroup(rg).NumRows()
	}

	tbl, err := f.readRowGroups(ctx, groups)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()
	return table.Head(tbl, n), nil
}

// Tail reads only the trailing row groups that cover n rows
func (p *ParquetAdapter) Tail(ctx context.Context, path string, n int64) (arrow.Table, error) {
	f, err := p.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if n <= 0 {
		return table.Empty(f.schema), nil
	}
	md := f.rdr.MetaData()
	var groups []int
	var covered int64
	for rg := md.NumRowGroups() - 1; rg >= 0 && covered < n; rg-- {
		groups = append([]int{rg}, groups...)
		covered += md.RowGroup(rg).NumRows()
	}

	tbl, err := f.readRowGroups(ctx, groups)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()
	return table.Tail(tbl, n), nil
}

// Count reads the row count from the footer
func (p *ParquetAdapter) Count(ctx context.Context, path string) (int64, error) {
	f, err := p.open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.rdr.NumRows(), nil
}

// ExtractMetadata reads the footer only
func (p *ParquetAdapter) ExtractMetadata(ctx context.Context, path string) (*schema.FileMetadata, error) {
	f, err := p.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	md := f.rdr.MetaData()
	groups := md.NumRowGroups()
	rows := f.rdr.NumRows()

	out := &schema.FileMetadata{
		Format:         Parquet,
		Schema:         schema.FromArrow(f.schema),
		RawSchema:      f.schema.String(),
		Codec:          schema.CodecUncompressed,
		KeyValue:       make(map[string]string),
		SerializedSize: fileSize(path),
		RowGroupCount:  &groups,
		RecordCount:    &rows,
		CreatedBy:      md.GetCreatedBy(),
	}
	if groups > 0 && md.NumColumns() > 0 {
		if cc, err := md.RowGroup(0).ColumnChunk(0); err == nil {
			out.Codec = codecFromParquet(cc.Compression())
		}
	}
	kv := md.KeyValueMetadata()
	keys, values := kv.Keys(), kv.Values()
	for i, k := range keys {
		if k != arrowSchemaKey {
			out.KeyValue[k] = values[i]
		}
	}
	return out, nil
}

func codecFromParquet(c compress.Compression) schema.Codec {
	switch c {
	case compress.Codecs.Uncompressed:
		return schema.CodecUncompressed
	case compress.Codecs.Snappy:
		return schema.CodecSnappy
	case compress.Codecs.Gzip:
		return schema.CodecGzip
	case compress.Codecs.Lzo:
		return schema.CodecLZO
	case compress.Codecs.Brotli:
		return schema.CodecBrotli
	case compress.Codecs.Lz4, compress.Codecs.Lz4Raw:
		return schema.CodecLZ4
	case compress.Codecs.Zstd:
		return schema.CodecZstd
	default:
		return schema.NormalizeCodec(c.String())
	}
}

func parquetCompression(c schema.Codec) (compress.Compression, error) {
	switch c {
	case schema.CodecUncompressed:
		return compress.Codecs.Uncompressed, nil
	case schema.CodecSnappy:
		return compress.Codecs.Snappy, nil
	case schema.CodecGzip:
		return compress.Codecs.Gzip, nil
	case schema.CodecBrotli:
		return compress.Codecs.Brotli, nil
	case schema.CodecLZ4:
		return compress.Codecs.Lz4Raw, nil
	case schema.CodecZstd:
		return compress.Codecs.Zstd, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeConfig, "codec %s is not available in this build", c).
			WithDetail("format", string(Parquet))
	}
}

// parquetSink creates the output file and a writer storing the arrow schema
// so nested and logical types survive a round trip
func (p *ParquetAdapter) parquetSink(path string, sc *arrow.Schema, codec schema.Codec, kv map[string]string) (*pqarrow.FileWriter, error) {
	comp, err := parquetCompression(codec)
	if err != nil {
		return nil, err
	}
	out, err := os.Create(path) //nolint:gosec // G304: user-supplied output path
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to create Parquet file").WithDetail("path", path)
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(comp),
		parquet.WithMaxRowGroupLength(parquetRowGroupRows),
		parquet.WithCreatedBy(createdBy),
	)
	arrProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
		pqarrow.WithAllocator(table.Allocator),
	)
	fw, err := pqarrow.NewFileWriter(sc, out, props, arrProps)
	if err != nil {
		out.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "table schema cannot be expressed in Parquet")
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		if k != arrowSchemaKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fw.AppendKeyValueMetadata(k, kv[k]); err != nil {
			fw.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to write Parquet metadata")
		}
	}
	return fw, nil
}

// WriteTable encodes tbl as a Parquet file
func (p *ParquetAdapter) WriteTable(ctx context.Context, tbl arrow.Table, path string, opts WriteOptions) (*WriteResult, error) {
	codec, err := schema.ParseCodec(Parquet, string(opts.Codec))
	if err != nil {
		return nil, err
	}
	fw, err := p.parquetSink(path, tbl.Schema(), codec, opts.Metadata)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.WriteTable(tbl, parquetRowGroupRows); err != nil {
		fw.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to write Parquet row groups").WithDetail("path", path)
	}
	if err := fw.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to finalize Parquet file").WithDetail("path", path)
	}

	p.logger.Debug("wrote Parquet file", zap.String("path", path), zap.Int64("rows", tbl.NumRows()), zap.String("codec", string(codec)))
	return &WriteResult{
		Path:  path,
		Rows:  tbl.NumRows(),
		Bytes: fileSize(path),
		Codec: string(codec),
	}, nil
}

// ValidateSchema checks the footer decodes, and when schemaPath is set, that
// the columns match the external Avro schema in name, type and nullability
func (p *ParquetAdapter) ValidateSchema(ctx context.Context, path, schemaPath string) error {
	f, err := p.open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if schemaPath == "" {
		return nil
	}

	text, err := loadExternalSchema(schemaPath)
	if err != nil {
		return err
	}
	root, err := parseAvroSchema(text)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchemaValidation, "invalid external Avro schema").
			WithDetail("schema", schemaPath)
	}
	expected, err := arrowSchemaFromAvro(root)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchemaValidation, "invalid external Avro schema").
			WithDetail("schema", schemaPath)
	}

	var problems []string
	for _, want := range expected.Fields() {
		idx := f.schema.FieldIndices(want.Name)
		if len(idx) == 0 {
			problems = append(problems, "missing column "+want.Name)
			continue
		}
		got := f.schema.Field(idx[0])
		if !arrow.TypeEqual(got.Type, want.Type) {
			problems = append(problems, "column "+want.Name+" has type "+got.Type.String()+", expected "+want.Type.String())
			continue
		}
		if !want.Nullable && got.Nullable {
			if nulls := f.nullCount(want.Name); nulls != 0 {
				problems = append(problems, "column "+want.Name+" holds nulls but is not nullable")
			}
		}
	}
	for _, got := range f.schema.Fields() {
		if len(expected.FieldIndices(got.Name)) == 0 {
			problems = append(problems, "unexpected column "+got.Name)
		}
	}
	if len(problems) > 0 {
		return errors.Newf(errors.ErrorTypeSchemaValidation, "file does not conform to %s: %s", schemaPath, strings.Join(problems, "; ")).
			WithDetail("schema", schemaPath)
	}
	return nil
}

// nullCount sums the footer null counts of a leaf column. It returns -1 when
// statistics are missing.
func (f *parquetFile) nullCount(name string) int64 {
	md := f.rdr.MetaData()
	col := md.Schema.ColumnIndexByName(name)
	if col < 0 {
		return -1
	}
	var total int64
	for rg := 0; rg < md.NumRowGroups(); rg++ {
		cc, err := md.RowGroup(rg).ColumnChunk(col)
		if err != nil {
			return -1
		}
		stats, err := cc.Statistics()
		if err != nil || stats == nil || !stats.HasNullCount() {
			return -1
		}
		total += stats.NullCount()
	}
	return total
}

// Merge writes the first input's schema, codec and metadata, then appends
// every input one row group at a time
func (p *ParquetAdapter) Merge(ctx context.Context, paths []string, out string) (*MergeResult, error) {
	if len(paths) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "merge requires at least one input")
	}
	for _, path := range paths {
		if err := p.ValidateFormat(path); err != nil {
			return nil, err
		}
	}

	first, err := p.ExtractMetadata(ctx, paths[0])
	if err != nil {
		return nil, err
	}
	head, err := p.open(paths[0])
	if err != nil {
		return nil, err
	}
	sc := head.schema
	head.Close()

	codec := first.Codec
	if _, err := parquetCompression(codec); err != nil {
		p.logger.Warn("first input codec cannot be written, falling back to uncompressed", zap.String("codec", string(codec)))
		codec = schema.CodecUncompressed
	}
	fw, err := p.parquetSink(out, sc, codec, first.KeyValue)
	if err != nil {
		return nil, err
	}

	result := &MergeResult{Output: out, Inputs: len(paths)}
	for i, path := range paths {
		n, err := p.appendFile(ctx, fw, path)
		result.Rows += n
		if err != nil {
			fw.Close()
			return result, errors.Wrapf(err, errors.ErrorTypeMerge, "failed to merge input %d (%s); partial output left at %s", i, path, out).
				WithDetail("input", path)
		}
		p.logger.Debug("merged input", zap.String("input", path), zap.Int64("rows", n))
	}
	if err := fw.Close(); err != nil {
		return result, errors.Wrap(err, errors.ErrorTypeIO, "failed to finalize merged file")
	}
	return result, nil
}

func (p *ParquetAdapter) appendFile(ctx context.Context, fw *pqarrow.FileWriter, path string) (int64, error) {
	f, err := p.open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var rows int64
	for rg := 0; rg < f.rdr.NumRowGroups(); rg++ {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		tbl, err := f.readRowGroups(ctx, []int{rg})
		if err != nil {
			return rows, err
		}
		if tbl.NumRows() > 0 {
			err = fw.WriteTable(tbl, parquetRowGroupRows)
		}
		n := tbl.NumRows()
		tbl.Release()
		if err != nil {
			return rows, err
		}
		rows += n
	}
	return rows, nil
}
