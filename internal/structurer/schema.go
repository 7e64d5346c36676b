package structurer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"prospector/internal/domain"
)

var compiled sync.Map // schema version -> *jsonschema.Schema

// ResponseSchema is the JSON schema a provider response must satisfy for the
// given field schema. Unknown field keys are allowed here and dropped later.
func ResponseSchema(schema domain.FieldSchema) map[string]any {
	scalar := []any{
		map[string]any{"type": "string"},
		map[string]any{"type": "number"},
		map[string]any{"type": "boolean"},
		map[string]any{"type": "null"},
		map[string]any{"type": "array", "items": map[string]any{"type": []any{"string", "number", "null"}}},
	}
	entry := map[string]any{
		"anyOf": append([]any{
			map[string]any{
				"type":     "object",
				"required": []any{"value"},
				"properties": map[string]any{
					"value":      map[string]any{"anyOf": scalar},
					"confidence": map[string]any{"type": []any{"number", "null"}},
				},
			},
		}, scalar...),
	}
	props := map[string]any{}
	for _, f := range schema.Fields {
		props[string(f)] = entry
	}
	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []any{"fields"},
		"properties": map[string]any{
			"document_type":      map[string]any{"type": []any{"string", "null"}},
			"overall_confidence": map[string]any{"type": []any{"number", "null"}},
			"fields": map[string]any{
				"type":       "object",
				"properties": props,
			},
		},
	}
}

func compiledSchema(schema domain.FieldSchema) (*jsonschema.Schema, error) {
	if s, ok := compiled.Load(schema.Version); ok {
		return s.(*jsonschema.Schema), nil
	}
	b, err := json.Marshal(ResponseSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := "mem://" + schema.Version + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	compiled.Store(schema.Version, s)
	return s, nil
}
