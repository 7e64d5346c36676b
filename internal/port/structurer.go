package port

import (
	"context"

	"prospector/internal/domain"
)

// StructureInput carries recognized text and the schema the result must satisfy.
type StructureInput struct {
	Text   string
	Schema domain.FieldSchema
}

// StructureOutput holds a complete, schema-conformant field set.
type StructureOutput struct {
	Fields            domain.FieldSet
	DocumentType      string
	OverallConfidence *float64
	ModelUsed         string
	PromptUsed        string
}

// Structurer abstracts LLM-based field extraction. Implementations never
// retry internally and fail with *domain.StructuringError.
type Structurer interface {
	Structure(ctx context.Context, input StructureInput) (*StructureOutput, error)
}
