// Package schema describes model fields and derives index specs from them.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adfharrison1/go-odm/pkg/domain"
	"github.com/adfharrison1/go-odm/pkg/keys"
)

// DefaultKeyField holds the primary key when no field is marked as key
const DefaultKeyField = "id"

// FieldType is the declared type of a field
type FieldType uint8

const (
	TypeAny FieldType = iota
	TypeString
	TypeNumber
	TypeBool
	TypeDate
	TypeObject
	TypeRef
)

var typeNames = map[FieldType]string{
	TypeAny:    "any",
	TypeString: "string",
	TypeNumber: "number",
	TypeBool:   "bool",
	TypeDate:   "date",
	TypeObject: "object",
	TypeRef:    "ref",
}

func (t FieldType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

func (t FieldType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *FieldType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*t = TypeAny
		return nil
	}
	for ft, name := range typeNames {
		if strings.EqualFold(name, s) {
			*t = ft
			return nil
		}
	}
	return fmt.Errorf("%w: unknown field type %q", domain.ErrInvalidSchema, s)
}

// Field declares one field of a model
type Field struct {
	Name      string    `json:"name"`
	Type      FieldType `json:"type,omitempty"`
	Array     bool      `json:"array,omitempty"`
	Index     bool      `json:"index,omitempty"`
	IndexName string    `json:"index_name,omitempty"`
	Unique    bool      `json:"unique,omitempty"`
	Ref       string    `json:"ref,omitempty"`
	Key       bool      `json:"key,omitempty"`
	Generate  bool      `json:"generate,omitempty"`
	Fields    []Field   `json:"fields,omitempty"`
}

// IsRef reports whether the field holds another model's key
func (f Field) IsRef() bool {
	return f.Type == TypeRef || f.Ref != ""
}

// Schema is the statically typed descriptor of a model
type Schema struct {
	Fields    []Field `json:"fields"`
	KeyPrefix string  `json:"key_prefix,omitempty"`
	KeySuffix string  `json:"key_suffix,omitempty"`
}

// New builds a schema from field declarations
func New(fields ...Field) *Schema {
	return &Schema{Fields: fields}
}

// Field returns the top-level field with the given name
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// KeyField returns the name of the field holding the primary key
func (s *Schema) KeyField() string {
	for _, f := range s.Fields {
		if f.Key {
			return f.Name
		}
	}
	return DefaultKeyField
}

// GeneratesKey reports whether a missing key is generated on save
func (s *Schema) GeneratesKey() bool {
	for _, f := range s.Fields {
		if f.Key {
			return f.Generate
		}
	}
	return true
}

// Validate checks the schema for declarations the indexer cannot serve
func (s *Schema) Validate() error {
	keyFields := 0
	for _, f := range s.Fields {
		if f.Key {
			keyFields++
			if f.Array || (f.Type != TypeString && f.Type != TypeAny) {
				return fmt.Errorf("%w: key field %q must be a scalar string", domain.ErrInvalidSchema, f.Name)
			}
		}
	}
	if keyFields > 1 {
		return fmt.Errorf("%w: %d key fields declared", domain.ErrInvalidSchema, keyFields)
	}
	if err := validateFields(s.Fields, ""); err != nil {
		return err
	}

	names := make(map[string]string)
	for _, spec := range ResolveSpecs(s) {
		if prev, dup := names[spec.IndexName]; dup {
			return fmt.Errorf("%w: index name %q used by %q and %q", domain.ErrInvalidSchema, spec.IndexName, prev, spec.FieldPath)
		}
		names[spec.IndexName] = spec.FieldPath
	}
	return nil
}

func validateFields(fields []Field, prefix string) error {
	seen := make(map[string]bool)
	for _, f := range fields {
		path := prefix + f.Name
		if !keys.ValidName(f.Name) || strings.Contains(f.Name, ".") {
			return fmt.Errorf("%w: invalid field name %q", domain.ErrInvalidSchema, path)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", domain.ErrInvalidSchema, path)
		}
		seen[f.Name] = true

		if f.Key && prefix != "" {
			return fmt.Errorf("%w: nested key field %q", domain.ErrInvalidSchema, path)
		}
		if f.Type == TypeRef && f.Ref == "" {
			return fmt.Errorf("%w: ref field %q names no model", domain.ErrInvalidSchema, path)
		}
		if f.Ref != "" && !keys.ValidName(f.Ref) {
			return fmt.Errorf("%w: ref field %q names invalid model %q", domain.ErrInvalidSchema, path, f.Ref)
		}
		if f.IndexName != "" && !keys.ValidName(f.IndexName) {
			return fmt.Errorf("%w: invalid index name %q on %q", domain.ErrInvalidSchema, f.IndexName, path)
		}
		if f.Index && f.Type == TypeObject && !f.IsRef() {
			return fmt.Errorf("%w: object field %q cannot be indexed", domain.ErrInvalidSchema, path)
		}
		if len(f.Fields) > 0 {
			if f.Type != TypeObject {
				return fmt.Errorf("%w: field %q has sub-fields but is %s", domain.ErrInvalidSchema, path, f.Type)
			}
			if err := validateFields(f.Fields, path+"."); err != nil {
				return err
			}
		}
	}
	return nil
}
