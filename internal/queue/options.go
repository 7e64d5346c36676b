package queue

import "time"

// Defaults shared by the queue drivers.
const (
	DefaultVisibilityTimeout = 10 * time.Minute
	DefaultPollInterval      = 500 * time.Millisecond
)

// Options configures a queue driver.
type Options struct {
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	Now               func() time.Time
}

// Option mutates Options.
type Option func(*Options)

// WithVisibilityTimeout sets how long a delivery stays leased without an ack.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *Options) { o.VisibilityTimeout = d }
}

// WithPollInterval caps how long Dequeue sleeps between checks.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) { o.PollInterval = d }
}

// WithClock replaces the wall clock (for testing).
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// Apply resolves options over the defaults.
func Apply(opts []Option) Options {
	o := Options{
		VisibilityTimeout: DefaultVisibilityTimeout,
		PollInterval:      DefaultPollInterval,
		Now:               time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
}
