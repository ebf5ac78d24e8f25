package connmgr

import (
	"testing"
	"time"
)

func TestRateLimiterEnforcesWindowLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewRateLimiter(3, time.Second)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if ok, _ := l.TryAcquire(); !ok {
			t.Fatalf("acquire %d refused inside limit", i+1)
		}
	}
	ok, retryAfter := l.TryAcquire()
	if ok {
		t.Fatal("acquire past limit must be refused")
	}
	if retryAfter <= 0 || retryAfter > time.Second {
		t.Fatalf("retry-after hint out of range: %s", retryAfter)
	}
}

func TestRateLimiterResetsOnWindowBoundary(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewRateLimiter(1, time.Second)
	l.now = func() time.Time { return now }

	if ok, _ := l.TryAcquire(); !ok {
		t.Fatal("first acquire refused")
	}
	if ok, _ := l.TryAcquire(); ok {
		t.Fatal("second acquire in same window must be refused")
	}

	now = now.Add(time.Second)
	if ok, _ := l.TryAcquire(); !ok {
		t.Fatal("acquire after window reset refused")
	}
}

func TestRateLimiterRetryAfterShrinksWithinWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewRateLimiter(1, time.Second)
	l.now = func() time.Time { return now }

	_, _ = l.TryAcquire()
	_, first := l.TryAcquire()
	now = now.Add(400 * time.Millisecond)
	_, second := l.TryAcquire()
	if second >= first {
		t.Fatalf("retry-after should shrink as the window ages: %s then %s", first, second)
	}
}
