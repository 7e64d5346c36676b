// Package events publishes committed extraction transitions to the
// configured sinks.
package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"prospector/internal/domain"
	"prospector/internal/port"
)

type logPublisher struct {
	log logrus.FieldLogger
}

// NewLogPublisher writes every transition as a structured log line.
func NewLogPublisher(log logrus.FieldLogger) port.TransitionPublisher {
	return &logPublisher{log: log}
}

func (p *logPublisher) Publish(_ context.Context, event *domain.TransitionEvent) error {
	p.log.WithFields(logrus.Fields{
		"event_id":    event.ID.String(),
		"document_id": event.DocumentID,
		"epoch":       event.Epoch,
		"attempt":     event.Attempt,
		"old_state":   event.OldState,
		"new_state":   event.NewState,
		"payload":     string(event.Payload),
	}).Info("extraction transition")
	return nil
}

func (p *logPublisher) Close() error { return nil }
