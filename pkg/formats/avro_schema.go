package formats

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	jsonpool "github.com/ajitpratap0/datatoolset/pkg/json"
)

// avroNode is a resolved Avro schema: named references point at the
// node that defined them.
type avroNode struct {
	kind     string // primitive name, record, enum, fixed, array, map or union
	logical  string
	fullName string
	fields   []avroField
	items    *avroNode
	values   *avroNode
	branches []*avroNode
	size     int
	scale    int32
	prec     int32
}

type avroField struct {
	name string
	node *avroNode
}

var avroPrimitives = map[string]bool{
	"null": true, "boolean": true, "int": true, "long": true,
	"float": true, "double": true, "bytes": true, "string": true,
}

// parseAvroSchema parses an Avro JSON schema into a node tree
func parseAvroSchema(text string) (*avroNode, error) {
	var raw interface{}
	if err := jsonpool.UnmarshalNumber([]byte(text), &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "invalid Avro schema JSON")
	}
	p := &avroParser{named: make(map[string]*avroNode)}
	node, err := p.parse(raw, "")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "invalid Avro schema")
	}
	return node, nil
}

type avroParser struct {
	named map[string]*avroNode
}

func (p *avroParser) parse(raw interface{}, namespace string) (*avroNode, error) {
	switch t := raw.(type) {
	case string:
		if avroPrimitives[t] {
			return &avroNode{kind: t}, nil
		}
		if n, ok := p.lookup(t, namespace); ok {
			return n, nil
		}
		return nil, fmt.Errorf("unknown type name %q", t)
	case []interface{}:
		u := &avroNode{kind: "union"}
		for _, b := range t {
			branch, err := p.parse(b, namespace)
			if err != nil {
				return nil, err
			}
			u.branches = append(u.branches, branch)
		}
		return u, nil
	case map[string]interface{}:
		return p.parseComplex(t, namespace)
	default:
		return nil, fmt.Errorf("unexpected schema element %T", raw)
	}
}

func (p *avroParser) parseComplex(m map[string]interface{}, namespace string) (*avroNode, error) {
	typ, ok := m["type"]
	if !ok {
		return nil, fmt.Errorf("schema object without type")
	}
	kind, ok := typ.(string)
	if !ok {
		// {"type": {...}} or {"type": [...]}
		return p.parse(typ, namespace)
	}
	logical, _ := m["logicalType"].(string)

	switch kind {
	case "record", "error", "enum", "fixed":
		name, _ := m["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%s without name", kind)
		}
		ns := namespace
		if v, ok := m["namespace"].(string); ok {
			ns = v
		}
		full := name
		if !strings.Contains(name, ".") && ns != "" {
			full = ns + "." + name
		}
		if i := strings.LastIndex(full, "."); i >= 0 {
			ns = full[:i]
		}

		node := &avroNode{kind: kind, fullName: full, logical: logical}
		if kind == "error" {
			node.kind = "record"
		}
		p.named[full] = node

		switch node.kind {
		case "record":
			fields, _ := m["fields"].([]interface{})
			for _, f := range fields {
				fm, ok := f.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("record %s: malformed field", full)
				}
				fname, _ := fm["name"].(string)
				child, err := p.parse(fm["type"], ns)
				if err != nil {
					return nil, fmt.Errorf("record %s field %s: %w", full, fname, err)
				}
				node.fields = append(node.fields, avroField{name: fname, node: child})
			}
		case "fixed":
			node.size = intAttr(m, "size")
			node.prec, node.scale = int32(intAttr(m, "precision")), int32(intAttr(m, "scale"))
		}
		return node, nil
	case "array":
		items, err := p.parse(m["items"], namespace)
		if err != nil {
			return nil, err
		}
		return &avroNode{kind: "array", items: items}, nil
	case "map":
		values, err := p.parse(m["values"], namespace)
		if err != nil {
			return nil, err
		}
		return &avroNode{kind: "map", values: values}, nil
	default:
		if !avroPrimitives[kind] {
			if n, ok := p.lookup(kind, namespace); ok {
				return n, nil
			}
			return nil, fmt.Errorf("unknown type name %q", kind)
		}
		node := &avroNode{kind: kind, logical: logical}
		if logical == "decimal" {
			node.prec, node.scale = int32(intAttr(m, "precision")), int32(intAttr(m, "scale"))
		}
		return node, nil
	}
}

func (p *avroParser) lookup(name, namespace string) (*avroNode, bool) {
	if n, ok := p.named[name]; ok {
		return n, true
	}
	if namespace != "" {
		n, ok := p.named[namespace+"."+name]
		return n, ok
	}
	return nil, false
}

func intAttr(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case jsonpool.Number:
		i, _ := v.Int64()
		return int(i)
	case float64:
		return int(v)
	}
	return 0
}

// unionName is the key goavro uses for this node inside a union
func (n *avroNode) unionName() string {
	switch n.kind {
	case "record", "enum", "fixed":
		return n.fullName
	case "array", "map":
		return n.kind
	}
	if n.logical != "" && n.isKnownLogical() {
		return n.kind + "." + n.logical
	}
	return n.kind
}

func (n *avroNode) isKnownLogical() bool {
	switch n.kind + "." + n.logical {
	case "long.timestamp-millis", "long.timestamp-micros", "int.date",
		"int.time-millis", "long.time-micros", "bytes.decimal":
		return true
	}
	return false
}

// nullable splits a union into its single non-null branch. ok is false for
// unions with several non-null branches.
func (n *avroNode) nullable() (inner *avroNode, hasNull bool, ok bool) {
	if n.kind != "union" {
		return n, false, true
	}
	var nonNull []*avroNode
	for _, b := range n.branches {
		if b.kind == "null" {
			hasNull = true
			continue
		}
		nonNull = append(nonNull, b)
	}
	switch len(nonNull) {
	case 0:
		return &avroNode{kind: "null"}, true, true
	case 1:
		return nonNull[0], hasNull, true
	default:
		return nil, hasNull, false
	}
}

// maxAvroDepth bounds nesting so recursive schemas fail instead of looping
const maxAvroDepth = 64

// arrowSchemaFromAvro derives the arrow schema a file decodes into. A
// top-level schema that is not a record becomes a single "value" column.
func arrowSchemaFromAvro(root *avroNode) (*arrow.Schema, error) {
	if root.kind != "record" {
		f, err := arrowFieldFromAvro("value", root, 0)
		if err != nil {
			return nil, err
		}
		return arrow.NewSchema([]arrow.Field{f}, nil), nil
	}
	fields := make([]arrow.Field, 0, len(root.fields))
	for _, f := range root.fields {
		af, err := arrowFieldFromAvro(f.name, f.node, 0)
		if err != nil {
			return nil, err
		}
		fields = append(fields, af)
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowFieldFromAvro(name string, node *avroNode, depth int) (arrow.Field, error) {
	if depth > maxAvroDepth {
		return arrow.Field{}, errors.Newf(errors.ErrorTypeFormat, "field %s: recursive Avro schemas are not supported", name)
	}
	inner, hasNull, ok := node.nullable()
	if !ok {
		// several non-null branches are carried as their Avro JSON encoding
		return arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: hasNull}, nil
	}
	dt, err := arrowTypeFromAvro(inner, depth)
	if err != nil {
		return arrow.Field{}, fmt.Errorf("field %s: %w", name, err)
	}
	return arrow.Field{Name: name, Type: dt, Nullable: hasNull || inner.kind == "null"}, nil
}

func arrowTypeFromAvro(n *avroNode, depth int) (arrow.DataType, error) {
	switch n.kind {
	case "null":
		return arrow.Null, nil
	case "boolean":
		return arrow.FixedWidthTypes.Boolean, nil
	case "int":
		switch n.logical {
		case "date":
			return arrow.FixedWidthTypes.Date32, nil
		case "time-millis":
			return arrow.FixedWidthTypes.Time32ms, nil
		}
		return arrow.PrimitiveTypes.Int32, nil
	case "long":
		switch n.logical {
		case "timestamp-millis":
			return &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}, nil
		case "timestamp-micros":
			return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
		case "time-micros":
			return arrow.FixedWidthTypes.Time64us, nil
		}
		return arrow.PrimitiveTypes.Int64, nil
	case "float":
		return arrow.PrimitiveTypes.Float32, nil
	case "double":
		return arrow.PrimitiveTypes.Float64, nil
	case "bytes":
		if n.logical == "decimal" && n.prec > 0 && n.prec <= 38 {
			return &arrow.Decimal128Type{Precision: n.prec, Scale: n.scale}, nil
		}
		return arrow.BinaryTypes.Binary, nil
	case "string", "enum":
		return arrow.BinaryTypes.String, nil
	case "fixed":
		return &arrow.FixedSizeBinaryType{ByteWidth: n.size}, nil
	case "array":
		item, err := arrowFieldFromAvro("item", n.items, depth+1)
		if err != nil {
			return nil, err
		}
		return arrow.ListOfField(item), nil
	case "map":
		item, err := arrowFieldFromAvro("value", n.values, depth+1)
		if err != nil {
			return nil, err
		}
		return arrow.MapOf(arrow.BinaryTypes.String, item.Type), nil
	case "record":
		fields := make([]arrow.Field, 0, len(n.fields))
		for _, f := range n.fields {
			af, err := arrowFieldFromAvro(f.name, f.node, depth+1)
			if err != nil {
				return nil, err
			}
			fields = append(fields, af)
		}
		return arrow.StructOf(fields...), nil
	}
	return nil, errors.Newf(errors.ErrorTypeFormat, "unsupported Avro type %q", n.kind)
}

// avroSchemaFromArrow derives the Avro record schema used to write a table.
// Lossy column conversions are reported as warnings.
func avroSchemaFromArrow(s *arrow.Schema) (*avroNode, string, []string, error) {
	b := &avroSchemaBuilder{}
	root := &avroNode{kind: "record", fullName: "Record"}
	fields := make([]interface{}, 0, s.NumFields())
	for _, f := range s.Fields() {
		node, js, err := b.field(f, "Record")
		if err != nil {
			return nil, "", nil, err
		}
		root.fields = append(root.fields, avroField{name: f.Name, node: node})
		fields = append(fields, map[string]interface{}{"name": f.Name, "type": js})
	}
	data, err := jsonpool.Marshal(map[string]interface{}{
		"type":   "record",
		"name":   "Record",
		"fields": fields,
	})
	if err != nil {
		return nil, "", nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode Avro schema")
	}
	return root, string(data), b.warnings, nil
}

type avroSchemaBuilder struct {
	warnings []string
}

func (b *avroSchemaBuilder) field(f arrow.Field, path string) (*avroNode, interface{}, error) {
	node, js, err := b.typ(f.Type, path+"_"+f.Name, f.Name)
	if err != nil {
		return nil, nil, err
	}
	if f.Nullable && node.kind != "null" {
		return &avroNode{kind: "union", branches: []*avroNode{{kind: "null"}, node}},
			[]interface{}{"null", js}, nil
	}
	return node, js, nil
}

func (b *avroSchemaBuilder) typ(dt arrow.DataType, path, column string) (*avroNode, interface{}, error) {
	prim := func(kind string) (*avroNode, interface{}, error) {
		return &avroNode{kind: kind}, kind, nil
	}
	logical := func(kind, lt string) (*avroNode, interface{}, error) {
		return &avroNode{kind: kind, logical: lt}, map[string]interface{}{"type": kind, "logicalType": lt}, nil
	}

	switch t := dt.(type) {
	case *arrow.NullType:
		return prim("null")
	case *arrow.BooleanType:
		return prim("boolean")
	case *arrow.Int8Type, *arrow.Int16Type, *arrow.Int32Type, *arrow.Uint8Type, *arrow.Uint16Type:
		return prim("int")
	case *arrow.Int64Type, *arrow.Uint32Type:
		return prim("long")
	case *arrow.Uint64Type:
		b.warnings = append(b.warnings, fmt.Sprintf("column %s: uint64 written as Avro long; values above 2^63-1 overflow", column))
		return prim("long")
	case *arrow.Float16Type, *arrow.Float32Type:
		return prim("float")
	case *arrow.Float64Type:
		return prim("double")
	case *arrow.StringType, *arrow.LargeStringType:
		return prim("string")
	case *arrow.BinaryType, *arrow.LargeBinaryType:
		return prim("bytes")
	case *arrow.FixedSizeBinaryType:
		name := avroName(path)
		return &avroNode{kind: "fixed", fullName: name, size: t.ByteWidth},
			map[string]interface{}{"type": "fixed", "name": name, "size": t.ByteWidth}, nil
	case *arrow.Date32Type, *arrow.Date64Type:
		return logical("int", "date")
	case *arrow.Time32Type:
		return logical("int", "time-millis")
	case *arrow.Time64Type:
		if t.Unit == arrow.Nanosecond {
			b.warnings = append(b.warnings, fmt.Sprintf("column %s: time64[ns] truncated to microseconds", column))
		}
		return logical("long", "time-micros")
	case *arrow.TimestampType:
		lt := "timestamp-micros"
		switch t.Unit {
		case arrow.Second, arrow.Millisecond:
			lt = "timestamp-millis"
		case arrow.Nanosecond:
			b.warnings = append(b.warnings, fmt.Sprintf("column %s: timestamp[ns] truncated to microseconds", column))
		}
		if t.TimeZone != "" && t.TimeZone != "UTC" {
			b.warnings = append(b.warnings, fmt.Sprintf("column %s: time zone %s not representable, values stored as UTC instants", column, t.TimeZone))
		}
		return logical("long", lt)
	case *arrow.Decimal128Type:
		return &avroNode{kind: "bytes", logical: "decimal", prec: t.Precision, scale: t.Scale},
			map[string]interface{}{"type": "bytes", "logicalType": "decimal", "precision": t.Precision, "scale": t.Scale}, nil
	case *arrow.MapType:
		if t.KeyType().ID() != arrow.STRING {
			return nil, nil, errors.Newf(errors.ErrorTypeConfig, "column %s: Avro maps require string keys, got %s", column, t.KeyType())
		}
		vnode, vjs, err := b.field(t.ItemField(), path)
		if err != nil {
			return nil, nil, err
		}
		return &avroNode{kind: "map", values: vnode}, map[string]interface{}{"type": "map", "values": vjs}, nil
	case arrow.ListLikeType:
		inode, ijs, err := b.field(t.ElemField(), path)
		if err != nil {
			return nil, nil, err
		}
		return &avroNode{kind: "array", items: inode}, map[string]interface{}{"type": "array", "items": ijs}, nil
	case *arrow.StructType:
		name := avroName(path)
		node := &avroNode{kind: "record", fullName: name}
		fields := make([]interface{}, 0, t.NumFields())
		for _, f := range t.Fields() {
			fnode, fjs, err := b.field(f, path)
			if err != nil {
				return nil, nil, err
			}
			node.fields = append(node.fields, avroField{name: f.Name, node: fnode})
			fields = append(fields, map[string]interface{}{"name": f.Name, "type": fjs})
		}
		return node, map[string]interface{}{"type": "record", "name": name, "fields": fields}, nil
	case *arrow.DictionaryType:
		return b.typ(t.ValueType, path, column)
	}
	return nil, nil, errors.Newf(errors.ErrorTypeConfig, "column %s: type %s cannot be written to Avro", column, dt)
}

// avroName turns a column path into a valid Avro name
func avroName(path string) string {
	var sb strings.Builder
	for i, r := range path {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
