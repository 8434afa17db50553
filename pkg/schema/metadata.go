package schema

// FileMetadata describes a file from its header or footer alone
type FileMetadata struct {
	Format Format      `json:"format"`
	Schema *Descriptor `json:"schema"`
	// RawSchema is the embedded Avro JSON schema or the rendered arrow schema
	RawSchema      string            `json:"raw_schema"`
	Codec          Codec             `json:"codec"`
	KeyValue       map[string]string `json:"metadata,omitempty"`
	SerializedSize int64             `json:"serialized_size_bytes"`
	// RowGroupCount is set for the columnar format only
	RowGroupCount *int `json:"row_group_count,omitempty"`
	// RecordCount is set only when known without decoding every record
	RecordCount *int64 `json:"record_count,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
}
