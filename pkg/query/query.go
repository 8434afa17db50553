// Package query runs SQL over a decoded file with an embedded DuckDB
// database. The file is exposed as a table named after its base name, so
// both FROM "weather.avro" and FROM 'weather.avro' address it.
//
// Built with -tags duckdb_arrow the table is handed to DuckDB through its
// Arrow interface and results come back as arrow records with their DuckDB
// types intact. Without the tag the table is staged as Parquet and results
// are scanned through database/sql; nested result columns are then rendered
// as JSON text.
package query

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	_ "github.com/marcboeker/go-duckdb/v2" // registers the duckdb driver
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/formats"
	stringpool "github.com/ajitpratap0/datatoolset/pkg/strings"
)

// DefaultChunkSize is the maximum number of rows per result record
const DefaultChunkSize = 1_000_000

// Engine executes SQL against decoded tables
type Engine struct {
	fs        afero.Fs
	logger    *zap.Logger
	chunkSize int
	tempDir   string
}

// Option configures an Engine
type Option func(*Engine)

// WithChunkSize sets the maximum rows per drained result record
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithTempDir sets where registration files are staged when the engine is
// built without the Arrow interface
func WithTempDir(dir string) Option {
	return func(e *Engine) { e.tempDir = dir }
}

// WithFs replaces the filesystem used for staging. DuckDB reads the staged
// file by path, so it must be backed by the OS.
func WithFs(fs afero.Fs) Option {
	return func(e *Engine) { e.fs = fs }
}

// NewEngine creates a query engine
func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		fs:        afero.NewOsFs(),
		logger:    logger,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run decodes path with adapter and executes query against it
func (e *Engine) Run(ctx context.Context, adapter formats.Adapter, path, query string) (arrow.Table, error) {
	tbl, err := adapter.ToTable(ctx, path)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()
	return e.RunTable(ctx, tbl, filepath.Base(path), query)
}

// RunTable registers tbl under name and executes query verbatim
func (e *Engine) RunTable(ctx context.Context, tbl arrow.Table, name, query string) (arrow.Table, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to open query engine")
	}
	defer db.Close()

	// temporary tables and views are visible to their own connection only
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to connect to query engine")
	}
	defer conn.Close()

	start := time.Now()
	out, err := e.execute(ctx, conn, tbl, name, query)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("query executed",
		zap.String("name", name),
		zap.Int64("rows", out.NumRows()),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// createStatement builds CREATE TEMP <kind> name AS SELECT * FROM <source>
func createStatement(kind, name, source string) string {
	sb := stringpool.NewSQLBuilder()
	defer sb.Close()
	return sb.WriteQuery("CREATE TEMP ").WriteQuery(kind).WriteSpace().WriteIdentifier(name).
		WriteQuery(" AS SELECT * FROM ").WriteQuery(source).String()
}

func queryFailed(err error, query string) error {
	return errors.Wrap(err, errors.ErrorTypeQuery, "query failed").WithDetail("query", query)
}

// rechunk splits recs into records of at most size rows and releases recs
func rechunk(recs []arrow.Record, size int) []arrow.Record {
	out := make([]arrow.Record, 0, len(recs))
	for _, rec := range recs {
		n := rec.NumRows()
		if size <= 0 || n <= int64(size) {
			out = append(out, rec)
			continue
		}
		for off := int64(0); off < n; off += int64(size) {
			out = append(out, rec.NewSlice(off, min(off+int64(size), n)))
		}
		rec.Release()
	}
	return out
}
