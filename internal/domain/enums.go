package domain

// ExtractionState represents a job's position in the extraction pipeline.
type ExtractionState string

const (
	StateQueued         ExtractionState = "QUEUED"
	StateRecognizing    ExtractionState = "RECOGNIZING"
	StateStructuring    ExtractionState = "STRUCTURING"
	StateReadyForReview ExtractionState = "READY_FOR_REVIEW"
	StateFailed         ExtractionState = "FAILED"
	StateApproved       ExtractionState = "APPROVED"
	StateRejected       ExtractionState = "REJECTED"
)

// AllStates lists every extraction state in pipeline order.
var AllStates = []ExtractionState{
	StateQueued,
	StateRecognizing,
	StateStructuring,
	StateReadyForReview,
	StateFailed,
	StateApproved,
	StateRejected,
}

// ValidStates is a lookup of the states accepted from external input (filters, query params).
var ValidStates = map[ExtractionState]bool{
	StateQueued:         true,
	StateRecognizing:    true,
	StateStructuring:    true,
	StateReadyForReview: true,
	StateFailed:         true,
	StateApproved:       true,
	StateRejected:       true,
}

// InFlight reports whether the orchestrator owns the job in this state.
func (s ExtractionState) InFlight() bool {
	return s == StateQueued || s == StateRecognizing || s == StateStructuring
}

// ErrorKind classifies a failure for retry purposes.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "InvalidInput"
	KindTransient         ErrorKind = "Transient"
	KindPermanent         ErrorKind = "Permanent"
	KindMalformedResponse ErrorKind = "MalformedResponse"
	KindInvalidTransition ErrorKind = "InvalidTransition"
)

// Retryable reports whether the orchestrator may retry a failure of this kind.
// MalformedResponse is retried since upstream glitches are usually one-off.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindMalformedResponse
}

// ResubmitPolicy controls what survives when a FAILED job is resubmitted.
type ResubmitPolicy string

const (
	// ResubmitRestart discards recognized text so the new epoch starts from recognition.
	ResubmitRestart ResubmitPolicy = "restart"
	// ResubmitReuseText keeps recognized text so the new epoch goes straight to structuring.
	ResubmitReuseText ResubmitPolicy = "reuse_text"
)

// ValidResubmitPolicies is a lookup of supported resubmit policies.
var ValidResubmitPolicies = map[ResubmitPolicy]bool{
	ResubmitRestart:   true,
	ResubmitReuseText: true,
}

// Stage names a pipeline stage in logs and events.
type Stage string

const (
	StageRecognition Stage = "recognition"
	StageStructuring Stage = "structuring"
	StageReview      Stage = "review"
	StageSubmission  Stage = "submission"
)
