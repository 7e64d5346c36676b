package memqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/queue"
	"prospector/internal/queue/memqueue"
	"prospector/internal/queue/queuetest"
)

func TestConformance(t *testing.T) {
	queuetest.Run(t, func(t *testing.T, clock *queuetest.Clock) port.JobQueue {
		q := memqueue.New(
			queue.WithVisibilityTimeout(queuetest.Visibility),
			queue.WithPollInterval(5*time.Millisecond),
			queue.WithClock(clock.Now),
		)
		t.Cleanup(func() { _ = q.Close() })
		return q
	})
}

func TestEnqueueAfterClose(t *testing.T) {
	q := memqueue.New()
	require.NoError(t, q.Close())
	err := q.Enqueue(context.Background(), port.JobMessage{DocumentID: "D1", Epoch: 1})
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
}

func TestEnqueueRequiresDocumentID(t *testing.T) {
	q := memqueue.New()
	defer q.Close()
	assert.ErrorIs(t, q.Enqueue(context.Background(), port.JobMessage{}), domain.ErrMissingDocumentID)
}

func TestStats(t *testing.T) {
	q := memqueue.New()
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, port.JobMessage{DocumentID: "D1", Epoch: 1}))
	require.NoError(t, q.Enqueue(ctx, port.JobMessage{DocumentID: "D2", Epoch: 1}))
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Pending: 1, InFlight: 1}, stats)
}
