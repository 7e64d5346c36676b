package port

import (
	"context"
	"time"
)

// JobMessage is the queued unit of work for one document.
type JobMessage struct {
	DocumentID    string    `json:"document_id"`
	FileReference string    `json:"file_reference"`
	Epoch         int       `json:"epoch"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Delivery is a leased message. The lease stays valid until Ack, Nack or the
// visibility timeout, whichever comes first.
type Delivery struct {
	Message     JobMessage
	LeaseID     string
	LeasedUntil time.Time
}

// JobQueue provides at-least-once delivery with per-document mutual
// exclusion: a document with an unexpired lease is never handed out again.
type JobQueue interface {
	Enqueue(ctx context.Context, msg JobMessage) error
	// Dequeue blocks until a message is available, ctx is done, or the queue is closed.
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Nack releases the lease and makes the message available again after delay.
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error
	// Extend renews an unexpired lease for another visibility timeout.
	Extend(ctx context.Context, d *Delivery) error
	Close() error
}
