package service

import (
	"hash/fnv"
	"strconv"
	"time"
)

// BackoffPolicy computes the delay before a retry. Delays double per
// attempt from Base up to Max. Jitter spreads a delay into the gap before
// the next attempt's delay, so the sequence never decreases.
type BackoffPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the gap to the next delay, in [0, 1]
}

func (p BackoffPolicy) raw(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		if d >= p.Max/2 {
			return p.Max
		}
		d *= 2
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Delay returns the delay after the given failed attempt. It depends only on
// the document id and attempt number.
func (p BackoffPolicy) Delay(documentID string, attempt int) time.Duration {
	d := p.raw(attempt)
	j := p.Jitter
	if j <= 0 {
		return d
	}
	if j > 1 {
		j = 1
	}
	gap := p.raw(attempt+1) - d
	if gap <= 0 {
		return d
	}
	return d + time.Duration(j*unitHash(documentID, attempt)*float64(gap))
}

// unitHash maps (documentID, attempt) to [0, 1).
func unitHash(documentID string, attempt int) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(documentID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(attempt)))
	return float64(h.Sum64()>>11) / float64(1<<53)
}
