package port

import (
	"context"

	"prospector/internal/domain"
)

// JobRepository persists extraction jobs and their transition history.
type JobRepository interface {
	Create(ctx context.Context, job *domain.ExtractionJob, event *domain.TransitionEvent) error
	GetByID(ctx context.Context, documentID string) (*domain.ExtractionJob, error)
	List(ctx context.Context, filter domain.JobFilter, offset, limit int) ([]domain.ExtractionJob, int, error)
	// Update commits job and appends event atomically, provided the stored
	// version still equals job.Version. On success job.Version is advanced;
	// on a mismatch it returns domain.ErrStaleJob.
	Update(ctx context.Context, job *domain.ExtractionJob, event *domain.TransitionEvent) error
	ListEvents(ctx context.Context, documentID string) ([]domain.TransitionEvent, error)
}

// Pinger is implemented by backing services that report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
