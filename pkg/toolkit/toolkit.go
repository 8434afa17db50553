// Package toolkit is the operation surface of datatoolset. Every operation
// resolves the input's format from its extension, runs against the matching
// adapter and returns a value; printing is left to the caller.
package toolkit

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datatoolset/pkg/compression"
	"github.com/ajitpratap0/datatoolset/pkg/config"
	"github.com/ajitpratap0/datatoolset/pkg/convert"
	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/formats"
	"github.com/ajitpratap0/datatoolset/pkg/logger"
	"github.com/ajitpratap0/datatoolset/pkg/merge"
	"github.com/ajitpratap0/datatoolset/pkg/observability"
	"github.com/ajitpratap0/datatoolset/pkg/query"
	"github.com/ajitpratap0/datatoolset/pkg/sample"
	"github.com/ajitpratap0/datatoolset/pkg/schema"
	"github.com/ajitpratap0/datatoolset/pkg/stats"
)

// Toolkit runs operations with one resolved configuration
type Toolkit struct {
	cfg    *config.Config
	logger *zap.Logger
}

// New creates a toolkit. A nil cfg uses config.Default and a nil logger the
// global logger.
func New(cfg *config.Config, log *zap.Logger) *Toolkit {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Get()
	}
	return &Toolkit{cfg: cfg, logger: log}
}

// Config returns the configuration the toolkit runs with
func (tk *Toolkit) Config() *config.Config {
	return tk.cfg
}

// CSVOptions returns the CSV dialect from the configuration
func (tk *Toolkit) CSVOptions() convert.CSVOptions {
	return convert.CSVOptions{
		Separator:      tk.cfg.CSV.Delimiter,
		Quote:          tk.cfg.CSV.Quote,
		LineTerminator: tk.cfg.CSV.LineTerminator,
		Header:         tk.cfg.CSV.Header,
	}
}

// JSONOptions returns the JSON output settings from the configuration
func (tk *Toolkit) JSONOptions() convert.JSONOptions {
	return convert.JSONOptions{Pretty: tk.cfg.Output.Pretty}
}

// Compression returns the configured compression for text outputs
func (tk *Toolkit) Compression() (compression.Algorithm, error) {
	return compression.ParseAlgorithm(tk.cfg.Output.Compression)
}

func (tk *Toolkit) defaultCodec(f formats.Format) schema.Codec {
	if f == formats.Avro {
		return schema.Codec(tk.cfg.Write.AvroCodec)
	}
	return schema.Codec(tk.cfg.Write.ParquetCodec)
}

// SchemaResult is the outcome of Schema
type SchemaResult struct {
	Format schema.Format      `json:"format"`
	Schema *schema.Descriptor `json:"schema"`
	// Raw is the schema as embedded in the file
	Raw string `json:"raw_schema"`
}

// run resolves the adapter for path and traces fn as operation op
func (tk *Toolkit) run(ctx context.Context, op, path string, fn func(context.Context, formats.Adapter, *zap.Logger) (int64, error)) error {
	ctx = logger.WithOperation(ctx, op, path)
	log := logger.WithContext(ctx, tk.logger)
	adapter, err := formats.ForPath(path, log)
	if err != nil {
		return err
	}
	return observability.NewOperationTracer(string(adapter.Format())).Trace(ctx, op, path,
		func(ctx context.Context) (int64, error) {
			return fn(ctx, adapter, log)
		})
}

// Head returns the first n rows of path
func (tk *Toolkit) Head(ctx context.Context, path string, n int64) (arrow.Table, error) {
	return tk.slice(ctx, "head", path, n, formats.Adapter.Head)
}

// Tail returns the last n rows of path in file order
func (tk *Toolkit) Tail(ctx context.Context, path string, n int64) (arrow.Table, error) {
	return tk.slice(ctx, "tail", path, n, formats.Adapter.Tail)
}

func (tk *Toolkit) slice(ctx context.Context, op, path string, n int64,
	read func(formats.Adapter, context.Context, string, int64) (arrow.Table, error)) (arrow.Table, error) {
	if n < 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "row count must not be negative, got %d", n)
	}
	var out arrow.Table
	err := tk.run(ctx, op, path, func(ctx context.Context, a formats.Adapter, _ *zap.Logger) (int64, error) {
		tbl, err := read(a, ctx, path, n)
		if err != nil {
			return 0, err
		}
		out = tbl
		return tbl.NumRows(), nil
	})
	return out, err
}

// Meta returns the file's metadata, read from its header or footer only
func (tk *Toolkit) Meta(ctx context.Context, path string) (*schema.FileMetadata, error) {
	var out *schema.FileMetadata
	err := tk.run(ctx, "meta", path, func(ctx context.Context, a formats.Adapter, _ *zap.Logger) (int64, error) {
		m, err := a.ExtractMetadata(ctx, path)
		out = m
		return 0, err
	})
	return out, err
}

// Schema returns the file's embedded schema
func (tk *Toolkit) Schema(ctx context.Context, path string) (*SchemaResult, error) {
	var out *SchemaResult
	err := tk.run(ctx, "schema", path, func(ctx context.Context, a formats.Adapter, _ *zap.Logger) (int64, error) {
		m, err := a.ExtractMetadata(ctx, path)
		if err != nil {
			return 0, err
		}
		out = &SchemaResult{Format: m.Format, Schema: m.Schema, Raw: m.RawSchema}
		return 0, nil
	})
	return out, err
}

// Stats computes per-column statistics in one streaming pass
func (tk *Toolkit) Stats(ctx context.Context, path string) (*stats.Result, error) {
	var out *stats.Result
	err := tk.run(ctx, "stats", path, func(ctx context.Context, a formats.Adapter, log *zap.Logger) (int64, error) {
		res, err := stats.Compute(ctx, a, path, tk.cfg.Read.StatsBatchSize, log)
		if err != nil {
			return 0, err
		}
		out = res
		return res.RowCount, nil
	})
	return out, err
}

// Count returns the number of rows in path
func (tk *Toolkit) Count(ctx context.Context, path string) (int64, error) {
	var out int64
	err := tk.run(ctx, "count", path, func(ctx context.Context, a formats.Adapter, _ *zap.Logger) (int64, error) {
		n, err := a.Count(ctx, path)
		out = n
		return n, err
	})
	return out, err
}

// Query runs sql against path, addressable by its base name
func (tk *Toolkit) Query(ctx context.Context, path, sql string) (arrow.Table, error) {
	var out arrow.Table
	err := tk.run(ctx, "query", path, func(ctx context.Context, a formats.Adapter, log *zap.Logger) (int64, error) {
		engine := query.NewEngine(log,
			query.WithChunkSize(tk.cfg.Query.ChunkSize),
			query.WithTempDir(tk.cfg.Query.TempDir))
		tbl, err := engine.Run(ctx, a, path, sql)
		if err != nil {
			return 0, err
		}
		out = tbl
		return tbl.NumRows(), nil
	})
	return out, err
}

// Validate checks the file structure and, when schemaPath is set, its
// content against that external Avro schema
func (tk *Toolkit) Validate(ctx context.Context, path, schemaPath string) error {
	return tk.run(ctx, "validate", path, func(ctx context.Context, a formats.Adapter, _ *zap.Logger) (int64, error) {
		return 0, a.ValidateSchema(ctx, path, schemaPath)
	})
}

// Merge concatenates paths into output; the first input wins on schema and codec
func (tk *Toolkit) Merge(ctx context.Context, paths []string, output string) (*merge.Result, error) {
	var out *merge.Result
	err := tk.run(ctx, "merge", output, func(ctx context.Context, _ formats.Adapter, log *zap.Logger) (int64, error) {
		res, err := merge.Merge(ctx, paths, output, log)
		out = res
		if res == nil {
			return 0, err
		}
		return res.Rows, err
	})
	return out, err
}

// ToJSON converts path to a JSON array of row objects
func (tk *Toolkit) ToJSON(ctx context.Context, path, output string, opts convert.JSONOptions, alg compression.Algorithm) (*convert.Result, error) {
	return tk.convert(ctx, "to_json", path, func(ctx context.Context, tbl arrow.Table) (*convert.Result, error) {
		return convert.JSONFile(ctx, tbl, output, opts, alg)
	})
}

// ToCSV converts path to CSV
func (tk *Toolkit) ToCSV(ctx context.Context, path, output string, opts convert.CSVOptions, alg compression.Algorithm) (*convert.Result, error) {
	return tk.convert(ctx, "to_csv", path, func(ctx context.Context, tbl arrow.Table) (*convert.Result, error) {
		return convert.CSVFile(ctx, tbl, output, opts, alg)
	})
}

// ToAvro converts path to an Avro container
func (tk *Toolkit) ToAvro(ctx context.Context, path, output string, codec schema.Codec) (*convert.Result, error) {
	return tk.toContainer(ctx, "to_avro", formats.Avro, path, output, codec)
}

// ToParquet converts path to a Parquet file
func (tk *Toolkit) ToParquet(ctx context.Context, path, output string, codec schema.Codec) (*convert.Result, error) {
	return tk.toContainer(ctx, "to_parquet", formats.Parquet, path, output, codec)
}

func (tk *Toolkit) toContainer(ctx context.Context, op string, f formats.Format, path, output string, codec schema.Codec) (*convert.Result, error) {
	if codec == "" {
		codec = tk.defaultCodec(f)
	}
	// codec errors are configuration errors and must precede any read
	c, err := schema.ParseCodec(f, string(codec))
	if err != nil {
		return nil, err
	}
	target, err := formats.ForFormat(f, tk.logger)
	if err != nil {
		return nil, err
	}
	return tk.convert(ctx, op, path, func(ctx context.Context, tbl arrow.Table) (*convert.Result, error) {
		return convert.ToContainer(ctx, tbl, target, output, c)
	})
}

func (tk *Toolkit) convert(ctx context.Context, op, path string, write func(context.Context, arrow.Table) (*convert.Result, error)) (*convert.Result, error) {
	var out *convert.Result
	err := tk.run(ctx, op, path, func(ctx context.Context, a formats.Adapter, log *zap.Logger) (int64, error) {
		tbl, err := a.ToTable(ctx, path)
		if err != nil {
			return 0, err
		}
		defer tbl.Release()

		res, err := write(ctx, tbl)
		if err != nil {
			return 0, err
		}
		log.Info("converted file", zap.String("output", res.Path), zap.Int64("rows", res.Rows))
		out = res
		return res.Rows, nil
	})
	return out, err
}

// RandomSample writes a random subset of path's rows to output
func (tk *Toolkit) RandomSample(ctx context.Context, path, output string, opts sample.Options) (*sample.Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	var out *sample.Result
	err := tk.run(ctx, "random_sample", path, func(ctx context.Context, a formats.Adapter, log *zap.Logger) (int64, error) {
		res, err := sample.Sample(ctx, a, path, output, opts, log)
		if err != nil {
			return 0, err
		}
		out = res
		return res.Rows, nil
	})
	return out, err
}
