package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// transitions lists every legal edge of the extraction state machine.
var transitions = map[ExtractionState]map[ExtractionState]bool{
	StateQueued: {
		StateRecognizing: true,
	},
	StateRecognizing: {
		StateStructuring: true,
		StateFailed:      true,
		StateQueued:      true,
	},
	StateStructuring: {
		StateReadyForReview: true,
		StateFailed:         true,
		StateQueued:         true,
	},
	StateReadyForReview: {
		StateApproved: true,
		StateRejected: true,
	},
	StateFailed: {
		StateQueued: true,
	},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to ExtractionState) bool {
	return transitions[from][to]
}

// transition checks the edge, applies mutate and stamps the job. The job is
// untouched when the edge is illegal.
func (j *ExtractionJob) transition(to ExtractionState, now time.Time, payload map[string]interface{}, mutate func(*ExtractionJob)) (*TransitionEvent, error) {
	from := j.State
	if !CanTransition(from, to) {
		return nil, &StateError{Kind: KindInvalidTransition, DocumentID: j.DocumentID, From: from, To: to}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling transition payload: %w", err)
	}
	if mutate != nil {
		mutate(j)
	}
	j.State = to
	j.UpdatedAt = now
	return &TransitionEvent{
		ID:         uuid.New(),
		DocumentID: j.DocumentID,
		Epoch:      j.Epoch,
		Attempt:    j.AttemptCount,
		OldState:   from,
		NewState:   to,
		Payload:    raw,
		OccurredAt: now,
	}, nil
}

// Begin starts a new attempt: QUEUED -> RECOGNIZING.
func (j *ExtractionJob) Begin(now time.Time) (*TransitionEvent, error) {
	return j.transition(StateRecognizing, now, map[string]interface{}{
		"attempt": j.AttemptCount + 1,
	}, func(job *ExtractionJob) {
		job.AttemptCount++
	})
}

// CompleteRecognition stores recognized text: RECOGNIZING -> STRUCTURING.
func (j *ExtractionJob) CompleteRecognition(text string, confidence float64, now time.Time) (*TransitionEvent, error) {
	confidence = ClampConfidence(confidence)
	return j.transition(StateStructuring, now, map[string]interface{}{
		"text_length": len(text),
		"confidence":  confidence,
	}, func(job *ExtractionJob) {
		t := text
		c := confidence
		job.RawText = &t
		job.RecognitionConfidence = &c
	})
}

// ReuseRecognition skips the recognition call when raw text from an earlier
// attempt is still valid: RECOGNIZING -> STRUCTURING.
func (j *ExtractionJob) ReuseRecognition(now time.Time) (*TransitionEvent, error) {
	if !j.HasRawText() {
		return nil, &StateError{Kind: KindInvalidTransition, DocumentID: j.DocumentID, From: j.State, To: StateStructuring}
	}
	return j.transition(StateStructuring, now, map[string]interface{}{
		"reused_text": true,
	}, nil)
}

// StructuringResult is the committed output of a structuring pass.
type StructuringResult struct {
	Schema            FieldSchema
	Fields            FieldSet
	DocumentType      string
	OverallConfidence *float64
	ModelUsed         string
}

// CompleteStructuring stores the full field set: STRUCTURING -> READY_FOR_REVIEW.
// Fields are set in the same step as the state so a partial set is never visible.
func (j *ExtractionJob) CompleteStructuring(res StructuringResult, now time.Time) (*TransitionEvent, error) {
	if !CanTransition(j.State, StateReadyForReview) {
		return nil, &StateError{Kind: KindInvalidTransition, DocumentID: j.DocumentID, From: j.State, To: StateReadyForReview}
	}
	if err := res.Fields.Complete(res.Schema); err != nil {
		return nil, err
	}
	fields := res.Fields.Clone()
	return j.transition(StateReadyForReview, now, map[string]interface{}{
		"schema_version": res.Schema.Version,
		"fields":         fields,
		"document_type":  res.DocumentType,
		"model":          res.ModelUsed,
	}, func(job *ExtractionJob) {
		job.StructuredFields = fields
		job.SchemaVersion = res.Schema.Version
		job.DocumentType = res.DocumentType
		job.ModelUsed = res.ModelUsed
		if res.OverallConfidence != nil {
			c := ClampConfidence(*res.OverallConfidence)
			job.OverallConfidence = &c
		}
		job.Error = ""
	})
}

// Requeue schedules a retry after a retryable failure: RECOGNIZING|STRUCTURING -> QUEUED.
func (j *ExtractionJob) Requeue(cause string, delay time.Duration, now time.Time) (*TransitionEvent, error) {
	if j.State != StateRecognizing && j.State != StateStructuring {
		return nil, &StateError{Kind: KindInvalidTransition, DocumentID: j.DocumentID, From: j.State, To: StateQueued}
	}
	return j.transition(StateQueued, now, map[string]interface{}{
		"retry_error": cause,
		"retry_delay": delay.String(),
	}, nil)
}

// Fail records a terminal pipeline failure: RECOGNIZING|STRUCTURING -> FAILED.
func (j *ExtractionJob) Fail(cause string, now time.Time) (*TransitionEvent, error) {
	if cause == "" {
		cause = "extraction failed"
	}
	return j.transition(StateFailed, now, map[string]interface{}{
		"error": cause,
	}, func(job *ExtractionJob) {
		job.Error = cause
	})
}

// Approve records a human approval: READY_FOR_REVIEW -> APPROVED.
func (j *ExtractionJob) Approve(reviewer string, now time.Time) (*TransitionEvent, error) {
	return j.transition(StateApproved, now, map[string]interface{}{
		"reviewer": reviewer,
	}, func(job *ExtractionJob) {
		t := now
		job.ReviewedBy = reviewer
		job.ReviewedAt = &t
	})
}

// Reject records a human rejection: READY_FOR_REVIEW -> REJECTED.
func (j *ExtractionJob) Reject(reviewer, reason string, now time.Time) (*TransitionEvent, error) {
	return j.transition(StateRejected, now, map[string]interface{}{
		"reviewer": reviewer,
		"reason":   reason,
	}, func(job *ExtractionJob) {
		t := now
		job.ReviewedBy = reviewer
		job.ReviewReason = reason
		job.ReviewedAt = &t
	})
}

// Resubmit starts a fresh attempt epoch for a failed job: FAILED -> QUEUED.
// The attempt count resets; recognized text survives only under ResubmitReuseText.
func (j *ExtractionJob) Resubmit(policy ResubmitPolicy, now time.Time) (*TransitionEvent, error) {
	if j.State != StateFailed {
		return nil, &StateError{Kind: KindInvalidTransition, DocumentID: j.DocumentID, From: j.State, To: StateQueued}
	}
	previous := j.Error
	return j.transition(StateQueued, now, map[string]interface{}{
		"resubmitted":    true,
		"policy":         string(policy),
		"previous_error": previous,
		"epoch":          j.Epoch + 1,
	}, func(job *ExtractionJob) {
		job.Epoch++
		job.AttemptCount = 0
		job.Error = ""
		job.StructuredFields = nil
		job.DocumentType = ""
		job.OverallConfidence = nil
		job.ModelUsed = ""
		if policy != ResubmitReuseText {
			job.RawText = nil
			job.RecognitionConfidence = nil
		}
	})
}

// SubmissionEvent records the creation of the job in QUEUED.
func (j *ExtractionJob) SubmissionEvent(now time.Time) *TransitionEvent {
	raw, _ := json.Marshal(map[string]interface{}{
		"file_reference": j.FileReference,
		"schema_version": j.SchemaVersion,
	})
	return &TransitionEvent{
		ID:         uuid.New(),
		DocumentID: j.DocumentID,
		Epoch:      j.Epoch,
		Attempt:    j.AttemptCount,
		NewState:   j.State,
		Payload:    raw,
		OccurredAt: now,
	}
}
