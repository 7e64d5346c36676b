package recognizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"prospector/internal/domain"
	"prospector/internal/port"
)

var errNoText = errors.New("no text recognized")

// Document is a fetched file handed to an Engine.
type Document struct {
	Name        string
	ContentType string
	Body        []byte
}

// Engine performs the recognition itself. Engines may return plain errors;
// the Adapter classifies anything that is not already a *domain.RecognitionError.
type Engine interface {
	Name() string
	Supports(contentType string) bool
	Recognize(ctx context.Context, doc Document) (*port.RecognitionOutput, error)
}

// Adapter implements port.Recognizer on top of object storage and an Engine.
type Adapter struct {
	storage port.ObjectStorage
	engine  Engine
	log     logrus.FieldLogger
}

// NewAdapter creates a recognition adapter.
func NewAdapter(storage port.ObjectStorage, engine Engine, log logrus.FieldLogger) *Adapter {
	return &Adapter{storage: storage, engine: engine, log: log}
}

func (a *Adapter) Recognize(ctx context.Context, fileRef string) (*port.RecognitionOutput, error) {
	if strings.TrimSpace(fileRef) == "" {
		return nil, domain.NewRecognitionError(domain.KindInvalidInput, domain.ErrInvalidReference)
	}

	obj, err := a.storage.Fetch(ctx, fileRef)
	if err != nil {
		return nil, domain.NewRecognitionError(domain.KindOf(err), fmt.Errorf("fetching %s: %w", fileRef, err))
	}
	if len(obj.Body) == 0 {
		return nil, domain.NewRecognitionError(domain.KindInvalidInput, domain.ErrEmptyFile)
	}
	if !a.engine.Supports(obj.ContentType) {
		return nil, domain.NewRecognitionError(domain.KindPermanent,
			fmt.Errorf("unsupported content type %q for %s", obj.ContentType, a.engine.Name()))
	}

	out, err := a.engine.Recognize(ctx, Document{Name: fileRef, ContentType: obj.ContentType, Body: obj.Body})
	if err != nil {
		var re *domain.RecognitionError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, domain.NewRecognitionError(domain.KindOf(err), err)
	}

	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" {
		return nil, domain.NewRecognitionError(domain.KindPermanent, errNoText)
	}
	out.Confidence = domain.ClampConfidence(out.Confidence)
	if out.Engine == "" {
		out.Engine = a.engine.Name()
	}

	a.log.WithFields(logrus.Fields{
		"file_reference": fileRef,
		"engine":         out.Engine,
		"method":         out.Method,
		"pages":          out.Pages,
		"chars":          len(out.Text),
		"confidence":     out.Confidence,
	}).Debug("recognizer.Recognize: text recognized")
	return out, nil
}
