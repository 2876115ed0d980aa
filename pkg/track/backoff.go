// Package track implements the aircraft live-tracking engine: a bounded,
// time-windowed trail store, an upstream-rate-limit backoff controller, and
// the poll-cycle engine that ties them to the feed client.
package track

import "time"

const (
	// DefaultBackoffBase is the first delay applied after a rate limit
	DefaultBackoffBase = 15 * time.Second

	// DefaultBackoffMax caps the doubling delay
	DefaultBackoffMax = 120 * time.Second
)

// Backoff tracks consecutive upstream rate-limit responses and computes the
// delay before the next poll may be attempted. The delay doubles from base up
// to max on each hit and resets to zero on any success; there is no
// maximum-retries termination, the controller self-heals once the upstream
// recovers.
//
// Backoff is not safe for concurrent use; it is owned exclusively by the
// engine's poll cycle.
type Backoff struct {
	base time.Duration
	max  time.Duration

	hits        int
	delay       time.Duration
	lastFailure time.Time
}

// NewBackoff creates a controller with the given base and cap. Non-positive
// values fall back to the defaults.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max < base {
		max = DefaultBackoffMax
	}
	return &Backoff{base: base, max: max}
}

// ShouldSkip reports whether the poll due at now must be skipped entirely:
// no network call, no state mutation.
func (b *Backoff) ShouldSkip(now time.Time) bool {
	return b.delay > 0 && now.Sub(b.lastFailure) < b.delay
}

// OnRateLimited records one HTTP 429 from the position feed.
func (b *Backoff) OnRateLimited(now time.Time) {
	b.hits++
	if b.delay == 0 {
		b.delay = b.base
	} else if b.delay < b.max {
		b.delay *= 2
		if b.delay > b.max {
			b.delay = b.max
		}
	}
	b.lastFailure = now
}

// OnSuccess resets the controller immediately, regardless of how many
// consecutive failures preceded it.
func (b *Backoff) OnSuccess() {
	b.hits = 0
	b.delay = 0
	b.lastFailure = time.Time{}
}

// Delay returns the current delay before the next attempt.
func (b *Backoff) Delay() time.Duration { return b.delay }

// Hits returns the consecutive rate-limit count.
func (b *Backoff) Hits() int { return b.hits }
