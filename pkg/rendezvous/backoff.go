package rendezvous

import "time"

// Backoff is a simple exponential-backoff counter for broker reconnects
// and STUN retries (§4.1 "Errors"), modeled on the adjustInterval idiom
// used for WAN health-check intervals.
type Backoff struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64

	current time.Duration
}

// NewBackoff returns a Backoff starting at min, doubling (by default) up
// to max on each Next call.
func NewBackoff(min, max time.Duration) *Backoff {
	return &Backoff{Min: min, Max: max, Multiplier: 2.0, current: min}
}

// Next returns the delay to wait before the next attempt and advances the
// internal state toward Max.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current = time.Duration(float64(b.current) * b.Multiplier)
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset returns the backoff to its minimum delay, called after a
// successful connect/query.
func (b *Backoff) Reset() {
	b.current = b.Min
}
