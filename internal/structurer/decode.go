package structurer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/upstream"
)

var notFoundAliases = map[string]bool{
	domain.NotFoundValue: true,
	"n/a":                true,
	"none":               true,
	"null":               true,
	"unknown":            true,
}

// DecodeResponse turns a provider's message content into a complete field set.
// Absent schema fields become "not found", unknown keys are dropped and
// confidences are clamped. Anything that cannot be read as the expected
// record fails with MalformedResponse.
func DecodeResponse(content string, schema domain.FieldSchema) (*port.StructureOutput, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, malformed(errors.New("no JSON object in response"), content)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, malformed(fmt.Errorf("parsing LLM JSON output: %w", err), content)
	}

	s, err := compiledSchema(schema)
	if err != nil {
		return nil, domain.NewStructuringError(domain.KindPermanent, err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, malformed(fmt.Errorf("json does not match schema: %w", err), content)
	}

	obj := doc.(map[string]any)
	fieldsIn, _ := obj["fields"].(map[string]any)

	fields := make(domain.FieldSet, len(schema.Fields))
	for _, name := range schema.Fields {
		entry, ok := fieldsIn[string(name)]
		if !ok {
			fields[name] = domain.NotFound()
			continue
		}
		fields[name] = decodeField(entry)
	}

	out := &port.StructureOutput{Fields: fields}
	if dt, ok := obj["document_type"].(string); ok {
		out.DocumentType = strings.TrimSpace(dt)
	}
	if c, ok := number(obj["overall_confidence"]); ok {
		c = domain.ClampConfidence(c)
		out.OverallConfidence = &c
	}
	return out, nil
}

func decodeField(entry any) domain.FieldValue {
	var value any
	confidence := 0.0
	if m, ok := entry.(map[string]any); ok {
		value = m["value"]
		if c, ok := number(m["confidence"]); ok {
			confidence = c
		}
	} else {
		value = entry
	}

	text, ok := normalizeValue(value)
	if !ok {
		return domain.NotFound()
	}
	return domain.FieldValue{Value: text, Confidence: domain.ClampConfidence(confidence)}
}

// normalizeValue renders a JSON scalar or array as the field's string value.
// It reports false for values that mean "not found".
func normalizeValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(t)
		if s == "" || notFoundAliases[strings.ToLower(s)] {
			return "", false
		}
		return s, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := normalizeValue(item); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, "; "), true
	default:
		return "", false
	}
}

func number(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

// extractJSON strips code fences and surrounding prose from model output.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

func malformed(err error, content string) error {
	return domain.NewStructuringError(domain.KindMalformedResponse,
		fmt.Errorf("%w (raw: %s)", err, upstream.Truncate(content, 500)))
}
