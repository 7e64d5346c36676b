package events

import (
	"context"
	"errors"
	"fmt"

	"prospector/internal/domain"
	"prospector/internal/port"
)

type multiPublisher struct {
	sinks []namedSink
}

type namedSink struct {
	name string
	pub  port.TransitionPublisher
}

// Multi fans a transition out to every sink. A failing sink does not stop
// delivery to the others; all failures are joined into the returned error.
func Multi(names []string, sinks []port.TransitionPublisher) port.TransitionPublisher {
	m := &multiPublisher{}
	for i, pub := range sinks {
		name := fmt.Sprintf("sink-%d", i)
		if i < len(names) {
			name = names[i]
		}
		m.sinks = append(m.sinks, namedSink{name: name, pub: pub})
	}
	return m
}

func (m *multiPublisher) Publish(ctx context.Context, event *domain.TransitionEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.pub.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *multiPublisher) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
