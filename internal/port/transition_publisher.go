package port

import (
	"context"

	"prospector/internal/domain"
)

// TransitionPublisher emits committed state transitions across the persistence boundary.
type TransitionPublisher interface {
	Publish(ctx context.Context, event *domain.TransitionEvent) error
	Close() error
}
