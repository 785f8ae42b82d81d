package registrar

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/JakeFAU/servicegraph/internal/service"
)

// backoffPolicy implements the retry wait schedule used between construction
// attempts: wait_i = base * multiplier^(i-1), capped at max.
type backoffPolicy struct {
	maxRetries int
	base       time.Duration
	multiplier float64
	max        time.Duration
}

func newBackoffPolicy(opts Options) backoffPolicy {
	return backoffPolicy{
		maxRetries: opts.MaxRetries,
		base:       opts.BackoffBase,
		multiplier: opts.BackoffMultiplier,
		max:        opts.BackoffMax,
	}
}

// shouldRetry decides whether another attempt is allowed after err on the
// given 1-based attempt number. Context cancellation is never retried, and
// neither is a missing dependency instance: the resolver guarantees
// dependencies register first, so that error is an ordering bug no amount
// of waiting will fix.
func (p backoffPolicy) shouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if service.IsNotFound(err) {
		return false
	}
	return true
}

// delay returns the wait before attempt+1, given the completed 1-based
// attempt number.
func (p backoffPolicy) delay(attempt int) time.Duration {
	wait := float64(p.base) * math.Pow(p.multiplier, float64(attempt-1))
	if wait > float64(p.max) {
		wait = float64(p.max)
	}
	return time.Duration(wait)
}

// sleep blocks for d or until the context finishes.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
