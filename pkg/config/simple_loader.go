package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DATATOOLSET_QUERY_CHUNK_SIZE.
const EnvPrefix = "DATATOOLSET"

// Load loads a configuration from a YAML file
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the --config flag
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(content), config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// Resolve builds the effective configuration: defaults, then the optional
// YAML file, then DATATOOLSET_* environment variables, then changed flags.
// Flags are bound by their viper key (see FlagBindings).
func Resolve(filePath string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		if err := Load(filePath, cfg); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range FlagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	overlay(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FlagBindings maps viper keys to the CLI flags that override them.
var FlagBindings = map[string]string{
	"observability.log_level":    "log-level",
	"observability.log_format":   "log-format",
	"observability.trace":        "trace",
	"observability.metrics_file": "metrics-file",
}

// overlay copies every key set in the environment or on the command line onto cfg.
func overlay(v *viper.Viper, cfg *Config) {
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setInt("read.head_rows", &cfg.Read.HeadRows)
	setInt("read.stats_batch_size", &cfg.Read.StatsBatchSize)
	setInt("query.chunk_size", &cfg.Query.ChunkSize)
	setString("query.temp_dir", &cfg.Query.TempDir)
	setString("write.avro_codec", &cfg.Write.AvroCodec)
	setString("write.parquet_codec", &cfg.Write.ParquetCodec)
	setString("csv.delimiter", &cfg.CSV.Delimiter)
	setString("csv.quote", &cfg.CSV.Quote)
	setString("csv.line_terminator", &cfg.CSV.LineTerminator)
	setBool("csv.header", &cfg.CSV.Header)
	setString("output.compression", &cfg.Output.Compression)
	setBool("output.pretty", &cfg.Output.Pretty)
	setString("observability.log_level", &cfg.Observability.LogLevel)
	setString("observability.log_format", &cfg.Observability.LogFormat)
	setBool("observability.trace", &cfg.Observability.Trace)
	setString("observability.metrics_file", &cfg.Observability.MetricsFile)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
