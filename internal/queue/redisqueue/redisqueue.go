package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/queue"
)

// scanLimit bounds how many ready documents one dequeue inspects.
const scanLimit = 64

// Queue is a Redis-backed port.JobQueue. All state changes run as Lua
// scripts so concurrent workers and processes see atomic leases.
type Queue struct {
	client   redis.UniversalClient
	ready    string
	msgs     string
	inflight string
	leases   string
	opts     queue.Options

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a queue storing its keys under prefix.
func New(client redis.UniversalClient, prefix string, opts ...queue.Option) *Queue {
	return &Queue{
		client:   client,
		ready:    prefix + ":ready",
		msgs:     prefix + ":msg",
		inflight: prefix + ":inflight",
		leases:   prefix + ":lease",
		opts:     queue.Apply(opts),
		done:     make(chan struct{}),
	}
}

func (q *Queue) nowMillis() int64 {
	return q.opts.Now().UnixMilli()
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Enqueue makes msg available now. It replaces a message already pending for
// the same document.
func (q *Queue) Enqueue(ctx context.Context, msg port.JobMessage) error {
	if msg.DocumentID == "" {
		return domain.ErrMissingDocumentID
	}
	if q.isClosed() {
		return domain.ErrQueueClosed
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redisqueue.Enqueue: marshal: %w", err)
	}
	if err := enqueueScript.Run(ctx, q.client, []string{q.ready, q.msgs, q.inflight}, msg.DocumentID, body, q.nowMillis()).Err(); err != nil {
		return fmt.Errorf("redisqueue.Enqueue: %w", err)
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*port.Delivery, error) {
	for {
		if q.isClosed() {
			return nil, domain.ErrQueueClosed
		}
		d, err := q.tryDequeue(ctx)
		if err != nil || d != nil {
			return d, err
		}
		timer := time.NewTimer(q.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.done:
			timer.Stop()
			return nil, domain.ErrQueueClosed
		case <-timer.C:
		}
	}
}

func (q *Queue) tryDequeue(ctx context.Context) (*port.Delivery, error) {
	leaseID := uuid.NewString()
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.ready, q.msgs, q.inflight, q.leases},
		q.nowMillis(), q.opts.VisibilityTimeout.Milliseconds(), leaseID, scanLimit,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("redisqueue.Dequeue: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("redisqueue.Dequeue: unexpected script reply of %d items", len(res))
	}

	body, _ := res[1].(string)
	var msg port.JobMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("redisqueue.Dequeue: decoding message: %w", err)
	}
	deadline, ok := res[2].(int64)
	if !ok {
		return nil, fmt.Errorf("redisqueue.Dequeue: unexpected deadline %v", res[2])
	}
	return &port.Delivery{
		Message:     msg,
		LeaseID:     leaseID,
		LeasedUntil: time.UnixMilli(deadline).UTC(),
	}, nil
}

func (q *Queue) Ack(ctx context.Context, d *port.Delivery) error {
	ok, err := ackScript.Run(ctx, q.client, []string{q.ready, q.msgs, q.inflight, q.leases},
		d.Message.DocumentID, d.LeaseID, q.nowMillis()).Int()
	if err != nil {
		return fmt.Errorf("redisqueue.Ack: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("redisqueue.Ack: %s: %w", d.Message.DocumentID, domain.ErrStaleDelivery)
	}
	return nil
}

// Nack releases the lease and makes the message available after delay. A
// message enqueued meanwhile replaces it but waits for the same delay.
func (q *Queue) Nack(ctx context.Context, d *port.Delivery, delay time.Duration) error {
	now := q.nowMillis()
	ok, err := nackScript.Run(ctx, q.client, []string{q.ready, q.msgs, q.inflight, q.leases},
		d.Message.DocumentID, d.LeaseID, now, now+delay.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redisqueue.Nack: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("redisqueue.Nack: %s: %w", d.Message.DocumentID, domain.ErrStaleDelivery)
	}
	return nil
}

// Extend renews the lease for another visibility timeout and moves
// d.LeasedUntil forward.
func (q *Queue) Extend(ctx context.Context, d *port.Delivery) error {
	now := q.nowMillis()
	deadline := now + q.opts.VisibilityTimeout.Milliseconds()
	ok, err := extendScript.Run(ctx, q.client, []string{q.ready, q.inflight, q.leases},
		d.Message.DocumentID, d.LeaseID, now, deadline).Int()
	if err != nil {
		return fmt.Errorf("redisqueue.Extend: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("redisqueue.Extend: %s: %w", d.Message.DocumentID, domain.ErrStaleDelivery)
	}
	d.LeasedUntil = time.UnixMilli(deadline).UTC()
	return nil
}

// Stats reports pending and leased message counts.
func (q *Queue) Stats(ctx context.Context) (queue.Stats, error) {
	pipe := q.client.TxPipeline()
	pending := pipe.ZCard(ctx, q.ready)
	inflight := pipe.ZCard(ctx, q.inflight)
	if _, err := pipe.Exec(ctx); err != nil {
		return queue.Stats{}, fmt.Errorf("redisqueue.Stats: %w", err)
	}
	return queue.Stats{Pending: int(pending.Val()), InFlight: int(inflight.Val())}, nil
}

// Ping reports whether Redis is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close unblocks all dequeuers. Messages stay in Redis; the client is owned by the caller.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
