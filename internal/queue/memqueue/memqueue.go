package memqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/queue"
)

type pending struct {
	msg         port.JobMessage
	availableAt time.Time
	seq         uint64
}

type lease struct {
	id    string
	msg   port.JobMessage
	until time.Time
}

// Queue is an in-process port.JobQueue. At most one message per document is
// pending and a document with an unexpired lease is never handed out.
type Queue struct {
	mu       sync.Mutex
	pending  map[string]*pending
	inflight map[string]*lease
	seq      uint64
	wake     chan struct{}
	done     chan struct{}
	closed   bool
	opts     queue.Options
}

// New creates an in-memory queue.
func New(opts ...queue.Option) *Queue {
	return &Queue{
		pending:  make(map[string]*pending),
		inflight: make(map[string]*lease),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		opts:     queue.Apply(opts),
	}
}

// Enqueue makes msg available now. It replaces a message already pending for
// the same document.
func (q *Queue) Enqueue(_ context.Context, msg port.JobMessage) error {
	if msg.DocumentID == "" {
		return domain.ErrMissingDocumentID
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.ErrQueueClosed
	}
	q.putLocked(msg, q.opts.Now())
	q.signal()
	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*port.Delivery, error) {
	for {
		d, wait, err := q.tryDequeue()
		if err != nil || d != nil {
			return d, err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.done:
			timer.Stop()
			return nil, domain.ErrQueueClosed
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) tryDequeue() (*port.Delivery, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, 0, domain.ErrQueueClosed
	}
	now := q.opts.Now()
	q.reclaimLocked(now)

	var best *pending
	for doc, p := range q.pending {
		if _, leased := q.inflight[doc]; leased || p.availableAt.After(now) {
			continue
		}
		if best == nil || p.availableAt.Before(best.availableAt) ||
			(p.availableAt.Equal(best.availableAt) && p.seq < best.seq) {
			best = p
		}
	}
	if best == nil {
		return nil, q.nextWakeLocked(now), nil
	}

	delete(q.pending, best.msg.DocumentID)
	l := &lease{id: uuid.NewString(), msg: best.msg, until: now.Add(q.opts.VisibilityTimeout)}
	q.inflight[best.msg.DocumentID] = l
	return &port.Delivery{Message: l.msg, LeaseID: l.id, LeasedUntil: l.until}, 0, nil
}

// reclaimLocked returns expired leases to the pending set unless a newer
// message for the document is already waiting.
func (q *Queue) reclaimLocked(now time.Time) {
	for doc, l := range q.inflight {
		if now.Before(l.until) {
			continue
		}
		delete(q.inflight, doc)
		if _, ok := q.pending[doc]; !ok {
			q.putLocked(l.msg, now)
		}
	}
}

func (q *Queue) nextWakeLocked(now time.Time) time.Duration {
	wait := q.opts.PollInterval
	consider := func(t time.Time) {
		if d := t.Sub(now); d < wait {
			wait = d
		}
	}
	for doc, p := range q.pending {
		if _, leased := q.inflight[doc]; !leased {
			consider(p.availableAt)
		}
	}
	for _, l := range q.inflight {
		consider(l.until)
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (q *Queue) Ack(_ context.Context, d *port.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.leaseLocked(d); err != nil {
		return err
	}
	delete(q.inflight, d.Message.DocumentID)
	if _, ok := q.pending[d.Message.DocumentID]; ok {
		q.signal()
	}
	return nil
}

// Nack releases the lease and makes the message available after delay. A
// message enqueued meanwhile replaces it but waits for the same delay.
func (q *Queue) Nack(_ context.Context, d *port.Delivery, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, err := q.leaseLocked(d)
	if err != nil {
		return err
	}
	delete(q.inflight, d.Message.DocumentID)
	availableAt := q.opts.Now().Add(delay)
	if p, ok := q.pending[d.Message.DocumentID]; ok {
		if availableAt.After(p.availableAt) {
			p.availableAt = availableAt
		}
	} else {
		q.putLocked(l.msg, availableAt)
	}
	q.signal()
	return nil
}

// Extend renews the lease for another visibility timeout and moves
// d.LeasedUntil forward.
func (q *Queue) Extend(_ context.Context, d *port.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, err := q.leaseLocked(d)
	if err != nil {
		return err
	}
	l.until = q.opts.Now().Add(q.opts.VisibilityTimeout)
	d.LeasedUntil = l.until
	return nil
}

func (q *Queue) leaseLocked(d *port.Delivery) (*lease, error) {
	l, ok := q.inflight[d.Message.DocumentID]
	if !ok || l.id != d.LeaseID || !q.opts.Now().Before(l.until) {
		return nil, fmt.Errorf("memqueue: %s: %w", d.Message.DocumentID, domain.ErrStaleDelivery)
	}
	return l, nil
}

func (q *Queue) putLocked(msg port.JobMessage, availableAt time.Time) {
	q.seq++
	q.pending[msg.DocumentID] = &pending{msg: msg, availableAt: availableAt, seq: q.seq}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Stats reports pending and leased message counts.
func (q *Queue) Stats(_ context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Stats{Pending: len(q.pending), InFlight: len(q.inflight)}, nil
}

// Close unblocks all dequeuers. Pending messages are discarded.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
