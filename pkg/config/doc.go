// # Usage
//
// Commands obtain their configuration through Resolve, which layers
// sources in increasing precedence:
//
//  1. Built-in defaults (Default)
//  2. An optional YAML file given with --config
//  3. Environment variables prefixed with DATATOOLSET_
//  4. Command-line flags that were explicitly set
//
// ## YAML files
//
// YAML values may reference the environment with ${VAR_NAME}:
//
//	query:
//	  chunk_size: 500000
//	  temp_dir: ${TMPDIR}
//	csv:
//	  delimiter: ";"
//
// ## Environment variables
//
// Nested keys are joined with underscores:
//
//	DATATOOLSET_QUERY_CHUNK_SIZE=250000
//	DATATOOLSET_OBSERVABILITY_LOG_LEVEL=debug
package config
