package connmgr

import (
	"sync"
	"time"
)

// throttle paces outbound payload bytes to a configured rate. Each send
// reserves its transmission time up front; reservations queue back to back,
// so concurrent senders share the configured bandwidth. A zero rate
// disables pacing.
type throttle struct {
	bytesPerSecond int64

	mu   sync.Mutex
	next time.Time // earliest instant the next send may start
}

// reserve books transmission time for size bytes and returns how long the
// caller must sleep before sending. The first reservation after an idle
// period starts immediately.
func (t *throttle) reserve(now time.Time, size int) time.Duration {
	if t.bytesPerSecond <= 0 || size <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.next.Before(now) {
		t.next = now
	}
	wait := t.next.Sub(now)
	t.next = t.next.Add(time.Duration(float64(size) / float64(t.bytesPerSecond) * float64(time.Second)))
	return wait
}
