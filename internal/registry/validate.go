package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrToolNotFound is returned when a name does not match any registered tool.
var ErrToolNotFound = errors.New("tool not found")

// FieldError describes one argument that failed schema validation.
type FieldError struct {
	Field       string `json:"field"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// ValidationError reports that a tool's arguments do not satisfy its input
// schema.
type ValidationError struct {
	Tool   string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason())
}

// Reason joins the field failures into one client-facing sentence.
func (e *ValidationError) Reason() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" || f.Field == rootField || f.Kind == "required" {
			parts = append(parts, f.Description)
			continue
		}
		parts = append(parts, f.Field+": "+f.Description)
	}
	return strings.Join(parts, "; ")
}

const rootField = "(root)"

var (
	schemasOnce sync.Once
	schemas     map[string]*gojsonschema.Schema
	schemasErr  error
)

// compiledSchemas compiles every tool's input schema exactly once. The
// schemas are built from the same Tool values List returns, so what clients
// discover is what gets enforced.
func compiledSchemas() (map[string]*gojsonschema.Schema, error) {
	schemasOnce.Do(func() {
		schemas = make(map[string]*gojsonschema.Schema, len(tools))
		for _, t := range tools {
			raw, err := json.Marshal(t.InputSchema)
			if err != nil {
				schemasErr = fmt.Errorf("marshal schema for %s: %w", t.Name, err)
				return
			}
			compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
			if err != nil {
				schemasErr = fmt.Errorf("compile schema for %s: %w", t.Name, err)
				return
			}
			schemas[t.Name] = compiled
		}
	})
	return schemas, schemasErr
}

// Validate checks args against the input schema of the named tool.
//
// A nil or empty args document is treated as an empty object. The returned
// error is ErrToolNotFound for unknown tools and *ValidationError when the
// arguments are rejected.
func Validate(name string, args json.RawMessage) error {
	all, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := all[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	doc := bytes.TrimSpace(args)
	if len(doc) == 0 || bytes.Equal(doc, []byte("null")) {
		doc = []byte("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &ValidationError{
			Tool:   name,
			Fields: []FieldError{{Field: rootField, Kind: "invalid_json", Description: fmt.Sprintf("arguments are not valid JSON: %v", err)}},
		}
	}
	if result.Valid() {
		return nil
	}

	fields := make([]FieldError, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		field := desc.Field()
		// Required errors sit on the parent object; name the missing property.
		if p, ok := desc.Details()["property"].(string); ok && desc.Type() == "required" {
			field = p
		}
		fields = append(fields, FieldError{
			Field:       field,
			Kind:        desc.Type(),
			Description: desc.Description(),
		})
	}
	return &ValidationError{Tool: name, Fields: fields}
}

// ApplyDefaults fills absent or empty optional arguments with the defaults
// declared in the tool's schema. args is modified in place and returned; a
// nil map is allocated.
func ApplyDefaults(name string, args map[string]any) map[string]any {
	if args == nil {
		args = make(map[string]any)
	}
	t, ok := Lookup(name)
	if !ok {
		return args
	}
	for field, prop := range t.InputSchema.Properties {
		if prop.Default == nil {
			continue
		}
		v, present := args[field]
		if !present || v == nil || v == "" {
			args[field] = prop.Default
		}
	}
	return args
}
