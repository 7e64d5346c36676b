package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"prospector/internal/domain"
	"prospector/internal/port"
)

// Test-only access to the unexported committer for the external test package.

const DefaultPublishTimeout = defaultPublishTimeout

type Committer struct{ c *committer }

func NewCommitter(repo port.JobRepository, publisher port.TransitionPublisher, log logrus.FieldLogger, timeout time.Duration) *Committer {
	return &Committer{c: &committer{repo: repo, publisher: publisher, log: log, timeout: timeout}}
}

func (c *Committer) Commit(ctx context.Context, job *domain.ExtractionJob, evt *domain.TransitionEvent) error {
	return c.c.commit(ctx, job, evt)
}
