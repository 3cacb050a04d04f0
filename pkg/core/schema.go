package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldType is a BigQuery column type.
type FieldType string

// BigQuery column types.
const (
	TypeString     FieldType = "STRING"
	TypeBytes      FieldType = "BYTES"
	TypeInt64      FieldType = "INT64"
	TypeFloat64    FieldType = "FLOAT64"
	TypeNumeric    FieldType = "NUMERIC"
	TypeBignumeric FieldType = "BIGNUMERIC"
	TypeBool       FieldType = "BOOL"
	TypeDate       FieldType = "DATE"
	TypeDatetime   FieldType = "DATETIME"
	TypeTime       FieldType = "TIME"
	TypeTimestamp  FieldType = "TIMESTAMP"
	TypeGeography  FieldType = "GEOGRAPHY"
	TypeJSON       FieldType = "JSON"
	TypeRecord     FieldType = "RECORD"
)

// FieldMode is a BigQuery column mode.
type FieldMode string

// Column modes. Nullable is the default when no mode is given.
const (
	ModeNullable FieldMode = "NULLABLE"
	ModeRequired FieldMode = "REQUIRED"
	ModeRepeated FieldMode = "REPEATED"
)

// Field is one column of a destination table schema.
// Fields must be non-empty iff Type is RECORD.
type Field struct {
	Name        string    `yaml:"name"`
	Type        FieldType `yaml:"type"`
	Mode        FieldMode `yaml:"mode"`
	Description string    `yaml:"description"`
	Fields      []Field   `yaml:"fields"`
}

// MarshalJSON emits the canonical serialization used by the schema
// checksum: fixed key order (name, type, mode, description, fields),
// empty values omitted, recursive for RECORD fields.
func (f Field) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	fmt.Fprintf(&buf, `"name":%q,"type":%q`, f.Name, f.Type)
	mode := f.Mode
	if mode == "" {
		mode = ModeNullable
	}
	fmt.Fprintf(&buf, `,"mode":%q`, mode)
	if f.Description != "" {
		fmt.Fprintf(&buf, `,"description":%q`, f.Description)
	}
	if len(f.Fields) > 0 {
		buf.WriteString(`,"fields":`)
		nested, err := json.Marshal(f.Fields)
		if err != nil {
			return nil, err
		}
		buf.Write(nested)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Schema is the ordered field list of one version's destination table.
type Schema struct {
	Fields []Field
}

// HasField reports whether a top-level field with the given name exists.
func (s Schema) HasField(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Get returns the top-level field with the given name.
func (s Schema) Get(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// CanonicalJSON returns the canonical serialization of the field list.
// Two schemas with the same fields always serialize to the same bytes,
// regardless of how the source YAML spelled or ordered its keys.
func (s Schema) CanonicalJSON() ([]byte, error) {
	return json.Marshal(s.Fields)
}
