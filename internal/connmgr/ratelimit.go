package connmgr

import (
	"sync"
	"time"
)

// RateLimiter is a counting-window limiter. The window resets on a fixed
// cadence; acquisitions past the limit fail until the next reset. Mutation
// happens only under mu, held for the length of the arithmetic and nothing
// more.
type RateLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	windowStart time.Time
	used        int
	now         func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, now: time.Now}
}

// TryAcquire is the non-blocking check. On refusal it returns the time until
// the current window resets as a retry-after hint.
func (l *RateLimiter) TryAcquire() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.used = 0
	}
	if l.used >= l.limit {
		return false, l.window - now.Sub(l.windowStart)
	}
	l.used++
	return true, 0
}
