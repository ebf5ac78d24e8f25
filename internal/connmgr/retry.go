package connmgr

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// RetryPolicy computes capped exponential backoff. Delay is deterministic;
// the small jitter is added separately at sleep time so delays stay
// non-decreasing across attempts for any factor >= 1.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
}

// Delay returns the backoff before the given attempt, 1-based:
// initialDelay * factor^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	return time.Duration(d)
}

// Jitter returns a random smear up to 10% of d.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)/10 + 1))
}

// retryable classifies failures: network errors, timeouts, and 5xx/429
// statuses warrant another attempt; other 4xx surface immediately.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Remaining transport-level errors (connection refused, reset, DNS)
	// arrive wrapped in url.Error which implements net.Error above; anything
	// else unknown is treated as retryable network trouble.
	return true
}
