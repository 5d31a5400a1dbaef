package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema describes the expected shape of a successful response.
type Schema interface {
	// Name identifies the schema in provider requests and errors.
	Name() string

	// Definition returns the JSON schema document.
	Definition() map[string]any

	// Validate checks a JSON document. A non-nil error is a *SchemaMismatch.
	Validate(doc []byte) error
}

// JSONSchema is a compiled JSON schema validated with gojsonschema.
// It is safe for concurrent use.
type JSONSchema struct {
	name       string
	definition map[string]any
	compiled   *gojsonschema.Schema
}

// NewJSONSchema compiles a literal JSON schema document.
func NewJSONSchema(name string, raw []byte) (*JSONSchema, error) {
	var def map[string]any
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	return newJSONSchema(name, def)
}

// SchemaFor generates a JSON schema from the exported fields of T.
//
// Field names follow json tags; fields without omitempty are required; a
// `schema:"description=..."` tag adds a description.
func SchemaFor[T any](name string) (*JSONSchema, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return nil, fmt.Errorf("schema %s: type parameter must be a concrete type", name)
	}
	def, err := schemaForType(t)
	if err != nil {
		return nil, fmt.Errorf("generate schema %s: %w", name, err)
	}
	return newJSONSchema(name, def)
}

// MustSchemaFor is like SchemaFor but panics on error. Intended for package-level vars.
func MustSchemaFor[T any](name string) *JSONSchema {
	s, err := SchemaFor[T](name)
	if err != nil {
		panic(err)
	}
	return s
}

func newJSONSchema(name string, def map[string]any) (*JSONSchema, error) {
	if name == "" {
		name = "response"
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &JSONSchema{name: name, definition: def, compiled: compiled}, nil
}

// Name implements Schema.
func (s *JSONSchema) Name() string { return s.name }

// Definition implements Schema.
func (s *JSONSchema) Definition() map[string]any { return s.definition }

// Validate implements Schema.
func (s *JSONSchema) Validate(doc []byte) error {
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &SchemaMismatch{Schema: s.name, Raw: string(doc), Err: err}
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}
	return &SchemaMismatch{Schema: s.name, Problems: problems, Raw: string(doc)}
}

func schemaForType(t reflect.Type) (map[string]any, error) {
	switch t.Kind() {
	case reflect.Pointer:
		return schemaForType(t.Elem())
	case reflect.Struct:
		return objectSchema(t)
	case reflect.Slice, reflect.Array:
		items, err := schemaForType(t.Elem())
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "array", "items": items}, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", t.Key())
		}
		values, err := schemaForType(t.Elem())
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": "object", "additionalProperties": values}, nil
	case reflect.String:
		return map[string]any{"type": "string"}, nil
	case reflect.Bool:
		return map[string]any{"type": "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}, nil
	case reflect.Interface:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", t.Kind())
	}
}

func objectSchema(t reflect.Type) (map[string]any, error) {
	properties := make(map[string]any)
	required := []string{}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		if field.Anonymous && field.Tag.Get("json") == "" {
			embedded, err := schemaForType(field.Type)
			if err != nil {
				return nil, err
			}
			if props, ok := embedded["properties"].(map[string]any); ok {
				for k, v := range props {
					properties[k] = v
				}
			}
			if req, ok := embedded["required"].([]string); ok {
				required = append(required, req...)
			}
			continue
		}

		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		name := parts[0]
		if name == "" {
			name = field.Name
		}
		optional := false
		for _, opt := range parts[1:] {
			if opt == "omitempty" || opt == "omitzero" {
				optional = true
			}
		}

		prop, err := schemaForType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		if desc := schemaTagValue(field.Tag.Get("schema"), "description"); desc != "" {
			prop["description"] = desc
		}
		properties[name] = prop
		if !optional {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, nil
}

// schemaTagValue reads key=value pairs separated by ';' from a schema tag.
func schemaTagValue(tag, key string) string {
	for _, part := range strings.Split(tag, ";") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(part), key+"="); ok {
			return v
		}
	}
	return ""
}

// StrictSchema reports whether def can be enforced in strict structured
// output mode: every object lists all of its properties as required and
// sets additionalProperties to false. Providers reject strict requests
// whose schema breaks these rules.
func StrictSchema(def map[string]any) bool {
	if def == nil {
		return false
	}
	return strictNode(def)
}

func strictNode(node map[string]any) bool {
	if props, ok := node["properties"].(map[string]any); ok || node["type"] == "object" {
		if node["additionalProperties"] != false {
			return false
		}
		required := make(map[string]bool)
		switch req := node["required"].(type) {
		case []string:
			for _, r := range req {
				required[r] = true
			}
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					required[s] = true
				}
			}
		}
		for name, prop := range props {
			if !required[name] {
				return false
			}
			if child, ok := prop.(map[string]any); ok && !strictNode(child) {
				return false
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok && !strictNode(items) {
		return false
	}
	for _, key := range []string{"anyOf", "$defs"} {
		switch sub := node[key].(type) {
		case []any:
			for _, s := range sub {
				if child, ok := s.(map[string]any); ok && !strictNode(child) {
					return false
				}
			}
		case map[string]any:
			for _, s := range sub {
				if child, ok := s.(map[string]any); ok && !strictNode(child) {
					return false
				}
			}
		}
	}
	return true
}
