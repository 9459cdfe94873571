// Package backoff provides the two retry policies used by the gateway: a
// bounded immediate retry for unary reads and a capped exponential delay for
// long-lived stream reconnects.
package backoff

import (
	"context"
	"sync"
	"time"

	"github.com/ananta888/hubgate/pkg/clock"
)

// Defaults for stream reconnection.
const (
	DefaultInitial = 2 * time.Second
	DefaultMax     = 60 * time.Second
)

// DefaultRetries is the retry count for idempotent reads.
const DefaultRetries = 2

// Fixed retries up to Retries times with no delay between attempts.
type Fixed struct {
	Retries int
}

// Attempts returns the total number of tries, including the first.
func (f Fixed) Attempts() int {
	if f.Retries < 0 {
		return 1
	}
	return 1 + f.Retries
}

// Exponential doubles its delay after each failure, up to Max. Reset returns
// it to Initial. Safe for concurrent use.
type Exponential struct {
	mu      sync.Mutex
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewExponential returns a policy starting at initial and capped at max.
// Non-positive values fall back to the defaults.
func NewExponential(initial, max time.Duration) *Exponential {
	if initial <= 0 {
		initial = DefaultInitial
	}
	if max <= 0 {
		max = DefaultMax
	}
	if max < initial {
		max = initial
	}
	return &Exponential{initial: initial, max: max, current: initial}
}

// Next returns the delay to wait now and advances the policy.
func (e *Exponential) Next() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.current
	e.current *= 2
	if e.current > e.max {
		e.current = e.max
	}
	return d
}

// Peek returns the delay Next would return without advancing.
func (e *Exponential) Peek() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Reset restores the initial delay. Called after every successful connect.
func (e *Exponential) Reset() {
	e.mu.Lock()
	e.current = e.initial
	e.mu.Unlock()
}

// Sleep waits d on c or returns ctx.Err() if ctx finishes first.
func Sleep(ctx context.Context, c clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}
