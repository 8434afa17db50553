// Package datatoolset is a command-line toolkit for Avro container files and
// Parquet files.
//
// Every command resolves the file's format from its extension and runs
// against one of two adapters that expose the same operations: head, tail,
// meta, schema, stats, count, query, validate, merge, conversion to JSON,
// CSV, Avro and Parquet, and random sampling.
//
// # Layout
//
//   - cmd/datatoolset: the cobra CLI; all printing happens here
//   - pkg/toolkit: the operation surface used by the CLI
//   - pkg/formats: the Avro (goavro) and Parquet (arrow-go) adapters
//   - pkg/stats, pkg/query, pkg/merge, pkg/sample, pkg/convert: the engines
//   - pkg/table, pkg/schema: the in-memory table and schema model
//   - pkg/config, pkg/logger, pkg/errors, pkg/observability: ambient concerns
//
// # Quick Start
//
//	go build -tags duckdb_arrow ./cmd/datatoolset
//
// The duckdb_arrow tag lets query hand tables to DuckDB through its Arrow
// interface, so decimals, nested columns and nanosecond timestamps come back
// with their own types. Without it query stages a Parquet copy and nested
// result columns are returned as JSON text.
//
//	datatoolset head -n 5 weather.avro
//	datatoolset stats weather.parquet
//	datatoolset query weather.avro 'SELECT station, max(temp) FROM "weather.avro" GROUP BY station'
//	datatoolset to_parquet --codec zstd weather.avro weather.parquet
//	datatoolset random_sample --n 100 --seed 7 weather.parquet sample.parquet
//
// Configuration is read from a YAML file passed with --config and from
// DATATOOLSET_* environment variables, for example DATATOOLSET_QUERY_CHUNK_SIZE.
package datatoolset
