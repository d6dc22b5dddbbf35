package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff configures the reconnect schedule.
type Backoff struct {
	// Initial is the delay before the second attempt. The first is immediate.
	Initial time.Duration
	// Max caps every delay.
	Max time.Duration
	// MaxAttempts is the total number of attempts before giving up.
	MaxAttempts int
}

// DefaultBackoff returns the production schedule: 0, 1s, 2s, 4s ... 30s,
// ten attempts in total.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 10,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
	return b
}

// Schedule returns a fresh iterator over the delays of b.
func (b Backoff) Schedule() *Schedule {
	b = b.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.Initial
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = b.Max
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &Schedule{next: backoff.WithMaxRetries(exp, uint64(b.MaxAttempts-1))}
}

// Delays returns the whole schedule.
func (b Backoff) Delays() []time.Duration {
	s := b.Schedule()
	var out []time.Duration
	for {
		d, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, d)
	}
}

// Schedule yields the wait before each reconnect attempt.
type Schedule struct {
	started bool
	next    backoff.BackOff
}

// Next returns the delay before the next attempt, or false when attempts
// are exhausted.
func (s *Schedule) Next() (time.Duration, bool) {
	if !s.started {
		s.started = true
		return 0, true
	}
	d := s.next.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}
