package structurer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/upstream"
)

// circuitState tracks rate-limit backoff for a single provider.
type circuitState struct {
	mu      sync.RWMutex
	resetAt time.Time // zero value = closed (healthy)
}

func (c *circuitState) isOpenWithReset(now time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resetAt, !c.resetAt.IsZero() && now.Before(c.resetAt)
}

func (c *circuitState) open(resetAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetAt = resetAt
}

// FallbackStructurer routes each call to the first provider whose circuit is
// closed. A rate-limited provider has its circuit opened for Retry-After, so
// the next attempt goes to the next provider. It implements port.Structurer.
type FallbackStructurer struct {
	providers []port.Structurer
	circuits  []*circuitState
	names     []string
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewFallbackStructurer creates a FallbackStructurer from an ordered list of providers and their names.
func NewFallbackStructurer(providers []port.Structurer, names []string, log logrus.FieldLogger) *FallbackStructurer {
	circuits := make([]*circuitState, len(providers))
	for i := range circuits {
		circuits[i] = &circuitState{}
	}
	return &FallbackStructurer{
		providers: providers,
		circuits:  circuits,
		names:     names,
		log:       log,
		now:       time.Now,
	}
}

// Structure calls exactly one provider and returns its result or error
// unchanged. Retrying is left to the caller.
func (f *FallbackStructurer) Structure(ctx context.Context, input port.StructureInput) (*port.StructureOutput, error) {
	now := f.now()
	var earliestReset time.Time

	for i, p := range f.providers {
		if resetAt, open := f.circuits[i].isOpenWithReset(now); open {
			f.log.WithField("provider", f.names[i]).Debugf("structurer.FallbackStructurer: skipping (circuit open until %s)", resetAt.Format(time.RFC3339))
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
			continue
		}

		out, err := p.Structure(ctx, input)
		if err == nil {
			return out, nil
		}
		f.log.WithField("provider", f.names[i]).WithError(err).Warn("structurer.FallbackStructurer: provider failed")

		var rlErr *upstream.RateLimitError
		if errors.As(err, &rlErr) {
			f.circuits[i].open(now.Add(rlErr.RetryAfter))
		}
		var se *domain.StructuringError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, domain.NewStructuringError(domain.KindOf(err), fmt.Errorf("provider %s: %w", f.names[i], err))
	}

	retryAfter := earliestReset.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return nil, domain.NewStructuringError(domain.KindTransient,
		upstream.NewRateLimitError("all", fmt.Errorf("all structuring providers rate limited"), int(retryAfter.Seconds())))
}
