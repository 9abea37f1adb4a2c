// Package ratelimit implements a simple exponential back-off executor for
// calls to external, rate-limited APIs.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrRateLimited is returned by Execute when ctx is done while it waits
// out a back-off delay after a rate-limited call. There is no separate
// limit on the number of retries.
var ErrRateLimited = errors.New("rate limited")

// Strategy configures the exponential back-off curve.
type Strategy struct {
	GrowthFactor float64
	MinBackOff   time.Duration
	MaxBackOff   time.Duration
}

// Limiter executes calls with exponential back-off whenever the caller
// classifies the result as rate-limited, growing the delay between
// retries up to a configured ceiling and resetting it once a call returns
// a result (success or error) that is not classified as rate-limited. The
// back-off curve itself is computed by a cenkalti/backoff
// ExponentialBackOff, shared across calls to Execute so the delay keeps
// growing across repeated rate-limited requests instead of resetting
// each time.
type Limiter struct {
	name string

	mu      sync.Mutex
	backOff *backoff.ExponentialBackOff
}

// New creates a Limiter identified by name (used only for logging).
func New(name string, strategy Strategy) *Limiter {
	return &Limiter{name: name, backOff: strategy.backOff()}
}

// Execute runs fn, retrying with exponential back-off while
// isRateLimited(err) reports true. It gives up and returns ErrRateLimited
// if ctx is cancelled while waiting out a back-off delay.
func Execute[T any](ctx context.Context, l *Limiter, fn func() (T, error), isRateLimited func(error) bool) (T, error) {
	for {
		result, err := fn()
		if err == nil || !isRateLimited(err) {
			l.reset()
			return result, err
		}

		delay := l.nextDelay()
		slog.Debug("rate limited, backing off", "limiter", l.name, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ErrRateLimited
		}
	}
}

func (l *Limiter) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backOff.Reset()
}

func (l *Limiter) nextDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	delay := l.backOff.NextBackOff()
	if delay == backoff.Stop {
		delay = l.backOff.MaxInterval
	}
	return delay
}

// backOff builds a cenkalti/backoff ExponentialBackOff configured from
// the strategy, with randomization disabled so the delay sequence is
// deterministic and unbounded elapsed time so it never stops retrying on
// its own.
func (s Strategy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.MinBackOff
	b.MaxInterval = s.MaxBackOff
	b.Multiplier = s.GrowthFactor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
