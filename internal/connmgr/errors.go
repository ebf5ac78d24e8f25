package connmgr

import (
	"fmt"
	"time"
)

// RateLimitedError is surfaced when the rate window stays saturated instead
// of blocking the caller indefinitely. RetryAfter hints when capacity frees.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// UpstreamUnavailableError is surfaced after retries and failover are both
// exhausted. It carries the last underlying error.
type UpstreamUnavailableError struct {
	Err error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("all endpoints unavailable: %v", e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response surfaced as an error. 5xx and 429 are
// retryable; other 4xx surface immediately.
type StatusError struct {
	Code     int
	Endpoint string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.Code)
}

// Retryable reports whether the status warrants another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == 429
}
