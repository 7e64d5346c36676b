package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound           = errors.New("extraction job not found")
	ErrJobAlreadyExists      = errors.New("extraction job already exists for this document")
	ErrStaleJob              = errors.New("extraction job was modified concurrently")
	ErrStaleDelivery         = errors.New("queue lease expired or was superseded")
	ErrQueueClosed           = errors.New("job queue is closed")
	ErrFileNotFound          = errors.New("file reference not found")
	ErrEmptyFile             = errors.New("file is empty")
	ErrFileUnavailable       = errors.New("file reference cannot be read")
	ErrInvalidReference      = errors.New("invalid file reference")
	ErrIncompleteFieldSet    = errors.New("structured field set is incomplete")
	ErrMissingDocumentID     = errors.New("document_id is required")
	ErrMissingReference      = errors.New("file_reference is required")
	ErrMissingRejectReason   = errors.New("a reason is required to reject an extraction")
	ErrInvalidResubmitPolicy = errors.New("unknown resubmit policy")
)

// RecognitionError is returned by recognition adapters.
type RecognitionError struct {
	Kind ErrorKind
	Err  error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition %s: %v", e.Kind, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// NewRecognitionError wraps err with the given kind.
func NewRecognitionError(kind ErrorKind, err error) *RecognitionError {
	return &RecognitionError{Kind: kind, Err: err}
}

// StructuringError is returned by structuring adapters.
type StructuringError struct {
	Kind ErrorKind
	Err  error
}

func (e *StructuringError) Error() string {
	return fmt.Sprintf("structuring %s: %v", e.Kind, e.Err)
}

func (e *StructuringError) Unwrap() error {
	return e.Err
}

// NewStructuringError wraps err with the given kind.
func NewStructuringError(kind ErrorKind, err error) *StructuringError {
	return &StructuringError{Kind: kind, Err: err}
}

// StateError reports an attempted transition that is not an edge of the state machine.
type StateError struct {
	Kind       ErrorKind
	DocumentID string
	From       ExtractionState
	To         ExtractionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: document %s cannot move from %s to %s", e.Kind, e.DocumentID, e.From, e.To)
}

// IsInvalidTransition reports whether err is a StateError of kind InvalidTransition.
func IsInvalidTransition(err error) bool {
	var se *StateError
	return errors.As(err, &se) && se.Kind == KindInvalidTransition
}

// KindOf classifies err. Adapter errors carry their own kind, deadline
// expiry is transient, and anything unrecognised is treated as transient so
// the attempt ceiling still bounds it.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var re *RecognitionError
	if errors.As(err, &re) {
		return re.Kind
	}
	var se *StructuringError
	if errors.As(err, &se) {
		return se.Kind
	}
	var st *StateError
	if errors.As(err, &st) {
		return st.Kind
	}
	if errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrEmptyFile) || errors.Is(err, ErrInvalidReference) {
		return KindInvalidInput
	}
	if errors.Is(err, ErrFileUnavailable) {
		return KindPermanent
	}
	return KindTransient
}
