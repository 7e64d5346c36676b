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

// maxReviewConflicts bounds reloads when a concurrent write wins the race.
const maxReviewConflicts = 3

// ReviewGate records the human decision on a READY_FOR_REVIEW job.
type ReviewGate interface {
	Approve(ctx context.Context, documentID, reviewer string) (*domain.ExtractionJob, error)
	Reject(ctx context.Context, documentID, reviewer, reason string) (*domain.ExtractionJob, error)
}

type reviewGate struct {
	repo   port.JobRepository
	commit *committer
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewReviewGate creates a new ReviewGate implementation.
func NewReviewGate(repo port.JobRepository, publisher port.TransitionPublisher, log logrus.FieldLogger) ReviewGate {
	return &reviewGate{
		repo:   repo,
		commit: &committer{repo: repo, publisher: publisher, log: log},
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (g *reviewGate) Approve(ctx context.Context, documentID, reviewer string) (*domain.ExtractionJob, error) {
	return g.decide(ctx, documentID, func(job *domain.ExtractionJob, now time.Time) (*domain.TransitionEvent, error) {
		return job.Approve(reviewer, now)
	})
}

func (g *reviewGate) Reject(ctx context.Context, documentID, reviewer, reason string) (*domain.ExtractionJob, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrMissingRejectReason
	}
	return g.decide(ctx, documentID, func(job *domain.ExtractionJob, now time.Time) (*domain.TransitionEvent, error) {
		return job.Reject(reviewer, reason, now)
	})
}

// decide applies the decision to the latest committed job. A lost race is
// retried against the reloaded job, which then fails the state check if the
// other writer already decided.
func (g *reviewGate) decide(ctx context.Context, documentID string, apply func(*domain.ExtractionJob, time.Time) (*domain.TransitionEvent, error)) (*domain.ExtractionJob, error) {
	for i := 0; ; i++ {
		job, err := g.repo.GetByID(ctx, documentID)
		if err != nil {
			return nil, err
		}
		evt, err := apply(job, g.now())
		if err != nil {
			return nil, err
		}
		err = g.commit.commit(ctx, job, evt)
		if errors.Is(err, domain.ErrStaleJob) && i+1 < maxReviewConflicts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reviewGate.decide: %w", err)
		}

		g.log.WithFields(logrus.Fields{
			"document_id": job.DocumentID,
			"stage":       domain.StageReview,
			"state":       job.State,
			"reviewer":    job.ReviewedBy,
		}).Info("reviewGate.decide: review recorded")
		return job, nil
	}
}
