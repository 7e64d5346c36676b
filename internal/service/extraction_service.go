package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"prospector/internal/domain"
	"prospector/internal/port"
)

// SubmitInput is the DTO for submitting a document for extraction.
type SubmitInput struct {
	DocumentID    string
	FileReference string
}

// ExtractionService defines the submission and status contract.
type ExtractionService interface {
	Submit(ctx context.Context, input *SubmitInput) (*domain.ExtractionJob, error)
	Get(ctx context.Context, documentID string) (*domain.ExtractionJob, error)
	List(ctx context.Context, filter domain.JobFilter, offset, limit int) ([]domain.ExtractionJob, int, error)
	History(ctx context.Context, documentID string) ([]domain.TransitionEvent, error)
	Resubmit(ctx context.Context, documentID string, policy domain.ResubmitPolicy) (*domain.ExtractionJob, error)
	// Recover re-enqueues every job the orchestrator still owns. It is run at
	// startup so jobs survive a queue that lost its contents.
	Recover(ctx context.Context) (int, error)
}

// ExtractionServiceConfig holds submission settings.
type ExtractionServiceConfig struct {
	Schema         domain.FieldSchema
	ResubmitPolicy domain.ResubmitPolicy
}

type extractionService struct {
	repo   port.JobRepository
	queue  port.JobQueue
	commit *committer
	cfg    ExtractionServiceConfig
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewExtractionService creates a new ExtractionService implementation.
func NewExtractionService(
	repo port.JobRepository,
	queue port.JobQueue,
	publisher port.TransitionPublisher,
	cfg ExtractionServiceConfig,
	log logrus.FieldLogger,
) ExtractionService {
	if cfg.ResubmitPolicy == "" {
		cfg.ResubmitPolicy = domain.ResubmitRestart
	}
	return &extractionService{
		repo:   repo,
		queue:  queue,
		commit: &committer{repo: repo, publisher: publisher, log: log},
		cfg:    cfg,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *extractionService) enqueue(ctx context.Context, job *domain.ExtractionJob) error {
	return s.queue.Enqueue(ctx, port.JobMessage{
		DocumentID:    job.DocumentID,
		FileReference: job.FileReference,
		Epoch:         job.Epoch,
		EnqueuedAt:    s.now(),
	})
}

// Submit creates a QUEUED job and enqueues it. Submitting the same document
// and reference again while the job is still QUEUED re-enqueues it, so a
// failed enqueue can be retried by the caller.
func (s *extractionService) Submit(ctx context.Context, input *SubmitInput) (*domain.ExtractionJob, error) {
	documentID := strings.TrimSpace(input.DocumentID)
	ref := strings.TrimSpace(input.FileReference)
	if documentID == "" {
		return nil, domain.ErrMissingDocumentID
	}
	if ref == "" {
		return nil, domain.ErrMissingReference
	}

	job := domain.NewExtractionJob(documentID, ref, s.cfg.Schema.Version, s.now())
	err := s.commit.create(ctx, job, job.SubmissionEvent(job.CreatedAt))
	if errors.Is(err, domain.ErrJobAlreadyExists) {
		existing, getErr := s.repo.GetByID(ctx, documentID)
		if getErr != nil {
			return nil, fmt.Errorf("extractionService.Submit: %w", getErr)
		}
		if existing.FileReference != ref || existing.State != domain.StateQueued {
			return nil, domain.ErrJobAlreadyExists
		}
		job = existing
	} else if err != nil {
		return nil, fmt.Errorf("extractionService.Submit: %w", err)
	}

	if err := s.enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("extractionService.Submit enqueue: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"document_id": job.DocumentID,
		"stage":       domain.StageSubmission,
		"epoch":       job.Epoch,
	}).Info("extractionService.Submit: job queued")
	return job, nil
}

func (s *extractionService) Get(ctx context.Context, documentID string) (*domain.ExtractionJob, error) {
	return s.repo.GetByID(ctx, documentID)
}

func (s *extractionService) List(ctx context.Context, filter domain.JobFilter, offset, limit int) ([]domain.ExtractionJob, int, error) {
	return s.repo.List(ctx, filter, offset, limit)
}

func (s *extractionService) History(ctx context.Context, documentID string) ([]domain.TransitionEvent, error) {
	if _, err := s.repo.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, documentID)
}

// Resubmit moves a FAILED job back to QUEUED under a new epoch. An empty
// policy uses the configured default.
func (s *extractionService) Resubmit(ctx context.Context, documentID string, policy domain.ResubmitPolicy) (*domain.ExtractionJob, error) {
	if policy == "" {
		policy = s.cfg.ResubmitPolicy
	}
	if !domain.ValidResubmitPolicies[policy] {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidResubmitPolicy, policy)
	}

	job, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	evt, err := job.Resubmit(policy, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.commit.commit(ctx, job, evt); err != nil {
		return nil, fmt.Errorf("extractionService.Resubmit: %w", err)
	}
	if err := s.enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("extractionService.Resubmit enqueue: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"document_id": job.DocumentID,
		"epoch":       job.Epoch,
		"policy":      policy,
	}).Info("extractionService.Resubmit: job requeued")
	return job, nil
}

const recoverPageSize = 200

func (s *extractionService) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for _, state := range []domain.ExtractionState{domain.StateQueued, domain.StateRecognizing, domain.StateStructuring} {
		for offset := 0; ; offset += recoverPageSize {
			jobs, total, err := s.repo.List(ctx, domain.JobFilter{State: state}, offset, recoverPageSize)
			if err != nil {
				return recovered, fmt.Errorf("extractionService.Recover: %w", err)
			}
			for i := range jobs {
				if err := s.enqueue(ctx, &jobs[i]); err != nil {
					return recovered, fmt.Errorf("extractionService.Recover enqueue %s: %w", jobs[i].DocumentID, err)
				}
				recovered++
			}
			if offset+len(jobs) >= total || len(jobs) == 0 {
				break
			}
		}
	}
	if recovered > 0 {
		s.log.WithField("jobs", recovered).Info("extractionService.Recover: re-enqueued in-flight jobs")
	}
	return recovered, nil
}
