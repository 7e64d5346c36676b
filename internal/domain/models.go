package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExtractionJob tracks one document through recognition, structuring and review.
type ExtractionJob struct {
	DocumentID            string          `db:"document_id" json:"document_id"`
	FileReference         string          `db:"file_reference" json:"file_reference"`
	State                 ExtractionState `db:"state" json:"state"`
	Epoch                 int             `db:"epoch" json:"epoch"`
	AttemptCount          int             `db:"attempt_count" json:"attempt_count"`
	RawText               *string         `db:"raw_text" json:"raw_text,omitempty"`
	RecognitionConfidence *float64        `db:"recognition_confidence" json:"recognition_confidence,omitempty"`
	SchemaVersion         string          `db:"schema_version" json:"schema_version"`
	StructuredFields      FieldSet        `db:"structured_fields" json:"structured_fields,omitempty"`
	DocumentType          string          `db:"document_type" json:"document_type,omitempty"`
	OverallConfidence     *float64        `db:"overall_confidence" json:"overall_confidence,omitempty"`
	ModelUsed             string          `db:"model_used" json:"model_used,omitempty"`
	Error                 string          `db:"error" json:"error,omitempty"`
	ReviewedBy            string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewReason          string          `db:"review_reason" json:"review_reason,omitempty"`
	ReviewedAt            *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Version               int64           `db:"version" json:"-"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// NewExtractionJob creates a job in the QUEUED state for its first epoch.
func NewExtractionJob(documentID, fileReference, schemaVersion string, now time.Time) *ExtractionJob {
	return &ExtractionJob{
		DocumentID:    documentID,
		FileReference: fileReference,
		State:         StateQueued,
		Epoch:         1,
		SchemaVersion: schemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// HasRawText reports whether recognition has completed for the current data.
func (j *ExtractionJob) HasRawText() bool {
	return j.RawText != nil
}

// Clone returns a deep copy of the job.
func (j *ExtractionJob) Clone() *ExtractionJob {
	c := *j
	if j.RawText != nil {
		t := *j.RawText
		c.RawText = &t
	}
	if j.RecognitionConfidence != nil {
		v := *j.RecognitionConfidence
		c.RecognitionConfidence = &v
	}
	if j.OverallConfidence != nil {
		v := *j.OverallConfidence
		c.OverallConfidence = &v
	}
	if j.ReviewedAt != nil {
		t := *j.ReviewedAt
		c.ReviewedAt = &t
	}
	c.StructuredFields = j.StructuredFields.Clone()
	return &c
}

// TransitionEvent is emitted across the persistence boundary for every committed transition.
type TransitionEvent struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	DocumentID string          `db:"document_id" json:"document_id"`
	Epoch      int             `db:"epoch" json:"epoch"`
	Attempt    int             `db:"attempt" json:"attempt"`
	OldState   ExtractionState `db:"old_state" json:"old_state"`
	NewState   ExtractionState `db:"new_state" json:"new_state"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	OccurredAt time.Time       `db:"occurred_at" json:"occurred_at"`
}

// JobFilter narrows job listings.
type JobFilter struct {
	State ExtractionState
}

// Value implements driver.Valuer so field sets persist as JSONB.
func (fs FieldSet) Value() (driver.Value, error) {
	if fs == nil {
		return nil, nil
	}
	b, err := json.Marshal(fs)
	if err != nil {
		return nil, fmt.Errorf("marshaling field set: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (fs *FieldSet) Scan(src interface{}) error {
	if src == nil {
		*fs = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("field set: unsupported scan source")
	}
	out := FieldSet{}
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("unmarshaling field set: %w", err)
	}
	*fs = out
	return nil
}
