// Package memory holds an in-process JobRepository for tests and single-node runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"prospector/internal/domain"
	"prospector/internal/port"
)

type jobRepo struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.ExtractionJob
	events map[string][]domain.TransitionEvent
}

// NewJobRepo creates an empty in-memory JobRepository. Stored jobs are
// copies, so callers never share state with the repository.
func NewJobRepo() port.JobRepository {
	return &jobRepo{
		jobs:   make(map[string]*domain.ExtractionJob),
		events: make(map[string][]domain.TransitionEvent),
	}
}

func (r *jobRepo) Create(_ context.Context, job *domain.ExtractionJob, event *domain.TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.DocumentID]; ok {
		return domain.ErrJobAlreadyExists
	}
	job.Version = 1
	r.jobs[job.DocumentID] = job.Clone()
	if event != nil {
		r.events[job.DocumentID] = append(r.events[job.DocumentID], *event)
	}
	return nil
}

func (r *jobRepo) GetByID(_ context.Context, documentID string) (*domain.ExtractionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[documentID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (r *jobRepo) List(_ context.Context, filter domain.JobFilter, offset, limit int) ([]domain.ExtractionJob, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.ExtractionJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		if filter.State != "" && job.State != filter.State {
			continue
		}
		matched = append(matched, *job.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].DocumentID < matched[j].DocumentID
	})

	total := len(matched)
	if offset >= total {
		return []domain.ExtractionJob{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r *jobRepo) Update(_ context.Context, job *domain.ExtractionJob, event *domain.TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.DocumentID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if stored.Version != job.Version {
		return domain.ErrStaleJob
	}
	job.Version++
	r.jobs[job.DocumentID] = job.Clone()
	if event != nil {
		r.events[job.DocumentID] = append(r.events[job.DocumentID], *event)
	}
	return nil
}

func (r *jobRepo) ListEvents(_ context.Context, documentID string) ([]domain.TransitionEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[documentID]
	out := make([]domain.TransitionEvent, len(events))
	copy(out, events)
	return out, nil
}
