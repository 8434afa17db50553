// Package config provides the configuration system for datatoolset.
// A single Config structure carries the defaults every command relies on;
// it can be loaded from YAML and overlaid with environment variables and
// command-line flags.
//
// The configuration is organized into sections:
//   - Read: head/tail row counts and streaming batch sizes
//   - Query: SQL result chunking and scratch space
//   - Write: default container codecs
//   - CSV: delimiter, quoting and header defaults
//   - Output: textual output formatting and compression
//   - Observability: logging, tracing and metrics
package config

import (
	"github.com/ajitpratap0/datatoolset/pkg/errors"
)

// Config is the top-level configuration for all commands.
type Config struct {
	Read          ReadConfig          `yaml:"read" json:"read"`
	Query         QueryConfig         `yaml:"query" json:"query"`
	Write         WriteConfig         `yaml:"write" json:"write"`
	CSV           CSVConfig           `yaml:"csv" json:"csv"`
	Output        OutputConfig        `yaml:"output" json:"output"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ReadConfig controls how much data is pulled from input files.
type ReadConfig struct {
	// HeadRows is the default row count for head and tail
	HeadRows int `yaml:"head_rows" json:"head_rows"`
	// StatsBatchSize is the number of row-format records decoded per stats batch
	StatsBatchSize int `yaml:"stats_batch_size" json:"stats_batch_size"`
}

// QueryConfig controls the SQL engine.
type QueryConfig struct {
	// ChunkSize bounds the rows fetched from the engine per batch
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// TempDir holds the scratch files used to register tables. Empty means os.TempDir.
	TempDir string `yaml:"temp_dir" json:"temp_dir"`
}

// WriteConfig holds the default codecs for container outputs.
type WriteConfig struct {
	AvroCodec    string `yaml:"avro_codec" json:"avro_codec"`
	ParquetCodec string `yaml:"parquet_codec" json:"parquet_codec"`
}

// CSVConfig holds CSV output defaults.
type CSVConfig struct {
	Delimiter      string `yaml:"delimiter" json:"delimiter"`
	Quote          string `yaml:"quote" json:"quote"`
	LineTerminator string `yaml:"line_terminator" json:"line_terminator"`
	Header         bool   `yaml:"header" json:"header"`
}

// OutputConfig controls textual outputs (JSON and CSV).
type OutputConfig struct {
	// Compression is applied to to_json/to_csv outputs: none, gzip, zstd, snappy, s2, lz4, deflate
	Compression string `yaml:"compression" json:"compression"`
	Pretty      bool   `yaml:"pretty" json:"pretty"`
}

// ObservabilityConfig controls logging, tracing and metrics.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
	// Trace exports operation spans to stderr
	Trace bool `yaml:"trace" json:"trace"`
	// MetricsFile receives prometheus text-format metrics when set
	MetricsFile string `yaml:"metrics_file" json:"metrics_file"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Read: ReadConfig{
			HeadRows:       20,
			StatsBatchSize: 65536,
		},
		Query: QueryConfig{
			ChunkSize: 1_000_000,
		},
		Write: WriteConfig{
			AvroCodec:    "uncompressed",
			ParquetCodec: "uncompressed",
		},
		CSV: CSVConfig{
			Delimiter:      ",",
			Quote:          `"`,
			LineTerminator: "\n",
			Header:         true,
		},
		Output: OutputConfig{
			Compression: "none",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "warn",
			LogFormat: "console",
		},
	}
}

// Validate checks that values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Read.HeadRows < 0 {
		return errors.New(errors.ErrorTypeConfig, "read.head_rows cannot be negative")
	}
	if c.Read.StatsBatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "read.stats_batch_size must be positive")
	}
	if c.Query.ChunkSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "query.chunk_size must be positive")
	}
	if len([]rune(c.CSV.Delimiter)) != 1 {
		return errors.Newf(errors.ErrorTypeConfig, "csv.delimiter must be a single character, got %q", c.CSV.Delimiter)
	}
	if len([]rune(c.CSV.Quote)) != 1 {
		return errors.Newf(errors.ErrorTypeConfig, "csv.quote must be a single character, got %q", c.CSV.Quote)
	}
	if c.CSV.Delimiter == c.CSV.Quote {
		return errors.New(errors.ErrorTypeConfig, "csv.delimiter and csv.quote must differ")
	}
	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "observability.log_format must be json or console, got %q", c.Observability.LogFormat)
	}
	return nil
}
