package port

import (
	"context"
)

// RecognitionOutput is the raw text produced from a document.
type RecognitionOutput struct {
	Text       string
	Confidence float64 // in [0, 1]
	Pages      int
	Method     string // e.g. "pdf-text", "image-ocr", "vision"
	Engine     string
}

// Recognizer turns a file reference into raw text. Implementations are
// stateless, never retry internally, and fail with *domain.RecognitionError.
type Recognizer interface {
	Recognize(ctx context.Context, fileRef string) (*RecognitionOutput, error)
}
