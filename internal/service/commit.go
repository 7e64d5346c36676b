package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"prospector/internal/domain"
	"prospector/internal/port"
)

// defaultPublishTimeout bounds one transition announcement.
const defaultPublishTimeout = 5 * time.Second

// committer persists a transition and then announces it. Publishing never
// undoes a commit; sink failures are only logged.
type committer struct {
	repo      port.JobRepository
	publisher port.TransitionPublisher
	log       logrus.FieldLogger
	timeout   time.Duration
}

func (c *committer) create(ctx context.Context, job *domain.ExtractionJob, evt *domain.TransitionEvent) error {
	if err := c.repo.Create(ctx, job, evt); err != nil {
		return err
	}
	c.publish(ctx, evt)
	return nil
}

func (c *committer) commit(ctx context.Context, job *domain.ExtractionJob, evt *domain.TransitionEvent) error {
	if err := c.repo.Update(ctx, job, evt); err != nil {
		return err
	}
	c.publish(ctx, evt)
	return nil
}

func (c *committer) publish(ctx context.Context, evt *domain.TransitionEvent) {
	if c.publisher == nil {
		return
	}
	timeout := c.timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, evt); err != nil {
		c.log.WithFields(logrus.Fields{
			"document_id": evt.DocumentID,
			"new_state":   evt.NewState,
		}).WithError(err).Warn("committer.publish: transition event not delivered")
	}
}
