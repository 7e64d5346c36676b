package domain

import (
	"fmt"
	"strings"
)

// FieldName identifies a structured field extracted from a document.
type FieldName string

const (
	FieldOwnerName       FieldName = "owner_name"
	FieldPropertyAddress FieldName = "property_address"
	FieldParcelIDAPN     FieldName = "parcel_id_apn"
	FieldTaxAmountDue    FieldName = "tax_amount_due"
	FieldDatesMentioned  FieldName = "dates_mentioned"
)

// NotFoundValue is the explicit value of a field that could not be located in the text.
const NotFoundValue = "not found"

// FieldSchema is a versioned enumeration of the fields a structuring pass must return.
type FieldSchema struct {
	Version string      `json:"version"`
	Fields  []FieldName `json:"fields"`
}

// PropertyRecordV1 is the field schema for property and tax documents.
var PropertyRecordV1 = FieldSchema{
	Version: "property-record/v1",
	Fields: []FieldName{
		FieldOwnerName,
		FieldPropertyAddress,
		FieldParcelIDAPN,
		FieldTaxAmountDue,
		FieldDatesMentioned,
	},
}

var schemas = map[string]FieldSchema{
	PropertyRecordV1.Version: PropertyRecordV1,
}

// SchemaByVersion looks up a registered field schema.
func SchemaByVersion(version string) (FieldSchema, bool) {
	s, ok := schemas[version]
	return s, ok
}

// Has reports whether name is part of the schema.
func (s FieldSchema) Has(name FieldName) bool {
	for _, f := range s.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// Validate rejects empty or duplicated schemas.
func (s FieldSchema) Validate() error {
	if s.Version == "" {
		return fmt.Errorf("field schema has no version")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("field schema %s has no fields", s.Version)
	}
	seen := make(map[FieldName]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f == "" {
			return fmt.Errorf("field schema %s has an empty field name", s.Version)
		}
		if seen[f] {
			return fmt.Errorf("field schema %s repeats field %s", s.Version, f)
		}
		seen[f] = true
	}
	return nil
}

// FieldValue is an extracted value and the model's confidence in it.
type FieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// NotFound returns the explicit value for a field absent from the text.
func NotFound() FieldValue {
	return FieldValue{Value: NotFoundValue, Confidence: 0}
}

// IsNotFound reports whether v is the explicit "not found" value.
func (v FieldValue) IsNotFound() bool {
	return strings.EqualFold(strings.TrimSpace(v.Value), NotFoundValue)
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// FieldSet maps every schema field to its extracted value.
type FieldSet map[FieldName]FieldValue

// Complete returns ErrIncompleteFieldSet if any schema field is missing or
// any confidence lies outside [0, 1].
func (fs FieldSet) Complete(schema FieldSchema) error {
	for _, name := range schema.Fields {
		v, ok := fs[name]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrIncompleteFieldSet, name)
		}
		if v.Confidence < 0 || v.Confidence > 1 {
			return fmt.Errorf("%w: %s confidence %v out of range", ErrIncompleteFieldSet, name, v.Confidence)
		}
	}
	return nil
}

// Clone returns a copy of fs.
func (fs FieldSet) Clone() FieldSet {
	if fs == nil {
		return nil
	}
	out := make(FieldSet, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}
