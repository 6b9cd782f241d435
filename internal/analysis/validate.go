package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator is a compiled schema, safe for concurrent use.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles schemaMap once.
func NewSchemaValidator(schemaMap map[string]any) (*SchemaValidator, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// MustSyllabusValidator compiles SyllabusSchema and panics if it is broken.
func MustSyllabusValidator() *SchemaValidator {
	v, err := NewSchemaValidator(SyllabusSchema())
	if err != nil {
		panic(err)
	}
	return v
}

// Validate reports whether data is JSON matching the schema. Failures wrap ErrInvalidOutput.
func (v *SchemaValidator) Validate(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: unmarshal data: %w", ErrInvalidOutput, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: json does not match schema: %w", ErrInvalidOutput, err)
	}
	return nil
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	v, err := NewSchemaValidator(schemaMap)
	if err != nil {
		return err
	}
	return v.Validate(data)
}
