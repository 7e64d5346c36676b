// Package queuetest holds the behavioral checks every port.JobQueue driver must pass.
package queuetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospector/internal/domain"
	"prospector/internal/port"
)

// Visibility is the lease length factories must configure.
const Visibility = time.Minute

// Clock is a manually advanced clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a clock fixed at start.
func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Factory builds a fresh, empty queue driven by clock, with a Visibility
// lease and a poll interval of a few milliseconds.
type Factory func(t *testing.T, clock *Clock) port.JobQueue

func msg(doc string, epoch int) port.JobMessage {
	return port.JobMessage{DocumentID: doc, FileReference: "s3://docs/" + doc + ".pdf", Epoch: epoch, EnqueuedAt: time.Unix(0, 0).UTC()}
}

func dequeueWithin(t *testing.T, q port.JobQueue, d time.Duration) (*port.Delivery, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.Dequeue(ctx)
}

func mustDequeue(t *testing.T, q port.JobQueue) *port.Delivery {
	t.Helper()
	d, err := dequeueWithin(t, q, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func assertEmpty(t *testing.T, q port.JobQueue) {
	t.Helper()
	d, err := dequeueWithin(t, q, 60*time.Millisecond)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Run executes the conformance suite against a driver.
func Run(t *testing.T, newQueue Factory) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("enqueue dequeue ack", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 1)))
		d := mustDequeue(t, q)
		assert.Equal(t, "D1", d.Message.DocumentID)
		assert.Equal(t, 1, d.Message.Epoch)
		assert.NotEmpty(t, d.LeaseID)
		assert.Equal(t, start.Add(Visibility), d.LeasedUntil)

		require.NoError(t, q.Ack(ctx, d))
		assertEmpty(t, q)
		assert.ErrorIs(t, q.Ack(ctx, d), domain.ErrStaleDelivery)
	})

	t.Run("one pending message per document", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 1)))
		require.NoError(t, q.Enqueue(ctx, msg("D1", 2)))

		d := mustDequeue(t, q)
		assert.Equal(t, 2, d.Message.Epoch)
		require.NoError(t, q.Ack(ctx, d))
		assertEmpty(t, q)
	})

	t.Run("leased document is not handed out again", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 1)))
		first := mustDequeue(t, q)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 2)))
		require.NoError(t, q.Enqueue(ctx, msg("D2", 1)))

		other := mustDequeue(t, q)
		assert.Equal(t, "D2", other.Message.DocumentID)
		assertEmpty(t, q)

		require.NoError(t, q.Ack(ctx, first))
		next := mustDequeue(t, q)
		assert.Equal(t, "D1", next.Message.DocumentID)
		assert.Equal(t, 2, next.Message.Epoch)
	})

	t.Run("expired lease is redelivered and fenced", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 1)))
		first := mustDequeue(t, q)

		clock.Advance(Visibility + time.Second)
		second := mustDequeue(t, q)
		assert.Equal(t, "D1", second.Message.DocumentID)
		assert.NotEqual(t, first.LeaseID, second.LeaseID)

		assert.ErrorIs(t, q.Ack(ctx, first), domain.ErrStaleDelivery)
		assert.ErrorIs(t, q.Nack(ctx, first, 0), domain.ErrStaleDelivery)
		require.NoError(t, q.Ack(ctx, second))
	})

	t.Run("ack after expiry is stale", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 1)))
		d := mustDequeue(t, q)
		clock.Advance(Visibility)
		assert.ErrorIs(t, q.Ack(ctx, d), domain.ErrStaleDelivery)

		again := mustDequeue(t, q)
		assert.Equal(t, "D1", again.Message.DocumentID)
	})

	t.Run("nack delays redelivery", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 1)))
		d := mustDequeue(t, q)
		require.NoError(t, q.Nack(ctx, d, 30*time.Second))
		assertEmpty(t, q)

		clock.Advance(31 * time.Second)
		again := mustDequeue(t, q)
		assert.Equal(t, "D1", again.Message.DocumentID)
	})

	t.Run("nack keeps a newer pending message", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 1)))
		d := mustDequeue(t, q)
		require.NoError(t, q.Enqueue(ctx, msg("D1", 2)))
		require.NoError(t, q.Nack(ctx, d, time.Minute))
		assertEmpty(t, q)

		clock.Advance(time.Minute)
		again := mustDequeue(t, q)
		assert.Equal(t, 2, again.Message.Epoch)
	})

	t.Run("extend renews the lease", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 1)))
		d := mustDequeue(t, q)
		clock.Advance(Visibility - time.Second)
		require.NoError(t, q.Extend(ctx, d))
		assert.Equal(t, clock.Now().Add(Visibility), d.LeasedUntil)

		clock.Advance(2 * time.Second)
		assertEmpty(t, q)
		require.NoError(t, q.Ack(ctx, d))
	})

	t.Run("extend after expiry is stale", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 1)))
		d := mustDequeue(t, q)
		clock.Advance(Visibility)
		assert.ErrorIs(t, q.Extend(ctx, d), domain.ErrStaleDelivery)

		again := mustDequeue(t, q)
		assert.ErrorIs(t, q.Extend(ctx, d), domain.ErrStaleDelivery)
		require.NoError(t, q.Extend(ctx, again))
	})

	t.Run("message enqueued during an extended lease waits for release", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		require.NoError(t, q.Enqueue(ctx, msg("D1", 1)))
		d := mustDequeue(t, q)
		require.NoError(t, q.Enqueue(ctx, msg("D1", 2)))
		clock.Advance(Visibility - time.Second)
		require.NoError(t, q.Extend(ctx, d))
		clock.Advance(2 * time.Second)
		assertEmpty(t, q)

		require.NoError(t, q.Ack(ctx, d))
		again := mustDequeue(t, q)
		assert.Equal(t, 2, again.Message.Epoch)
	})

	t.Run("close unblocks dequeue", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		errc := make(chan error, 1)
		go func() {
			_, err := q.Dequeue(context.Background())
			errc <- err
		}()
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, q.Close())

		select {
		case err := <-errc:
			assert.ErrorIs(t, err, domain.ErrQueueClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("Dequeue did not return after Close")
		}
	})

	t.Run("concurrent consumers never share a document", func(t *testing.T) {
		clock := NewClock(start)
		q := newQueue(t, clock)

		const docs, rounds, consumers = 8, 3, 6
		for i := 0; i < docs; i++ {
			require.NoError(t, q.Enqueue(ctx, msg(fmt.Sprintf("D%d", i), 1)))
		}

		var mu sync.Mutex
		held := map[string]bool{}
		violations, delivered := 0, 0
		var wg sync.WaitGroup
		for c := 0; c < consumers; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					d, err := dequeueWithin(t, q, 150*time.Millisecond)
					if errors.Is(err, context.DeadlineExceeded) {
						return
					}
					if err != nil {
						return
					}
					doc := d.Message.DocumentID
					mu.Lock()
					if held[doc] {
						violations++
					}
					held[doc] = true
					delivered++
					mu.Unlock()

					// A redundant submission while the document is leased.
					if d.Message.Epoch < rounds {
						_ = q.Enqueue(ctx, msg(doc, d.Message.Epoch+1))
					}
					time.Sleep(2 * time.Millisecond)

					mu.Lock()
					held[doc] = false
					mu.Unlock()
					_ = q.Ack(ctx, d)
				}
			}()
		}
		wg.Wait()
		assert.Zero(t, violations)
		assert.Equal(t, docs*rounds, delivered)
	})
}
