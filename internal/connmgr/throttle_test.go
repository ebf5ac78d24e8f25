package connmgr

import (
	"testing"
	"time"
)

func TestThrottleDisabled(t *testing.T) {
	tr := throttle{bytesPerSecond: 0}
	if d := tr.reserve(time.Now(), 1<<20); d != 0 {
		t.Fatalf("disabled throttle reserved %s", d)
	}
}

func TestThrottleFirstSendIsImmediate(t *testing.T) {
	tr := throttle{bytesPerSecond: 10000}
	if d := tr.reserve(time.Now(), 1000); d != 0 {
		t.Fatalf("first reservation should not wait, got %s", d)
	}
}

func TestThrottleQueuesBackToBack(t *testing.T) {
	// 1000 bytes at 10kB/s occupies 100ms; the second and third senders
	// queue behind the accumulated reservations.
	tr := throttle{bytesPerSecond: 10000}
	now := time.Now()
	if d := tr.reserve(now, 1000); d != 0 {
		t.Fatalf("first reservation waited %s", d)
	}
	if d := tr.reserve(now, 1000); d != 100*time.Millisecond {
		t.Fatalf("second reservation waited %s, want 100ms", d)
	}
	if d := tr.reserve(now, 500); d != 200*time.Millisecond {
		t.Fatalf("third reservation waited %s, want 200ms", d)
	}
}

func TestThrottleIdleGapResetsSchedule(t *testing.T) {
	tr := throttle{bytesPerSecond: 10000}
	now := time.Now()
	tr.reserve(now, 1000)
	// A caller arriving well after the booked time starts immediately.
	if d := tr.reserve(now.Add(time.Second), 1000); d != 0 {
		t.Fatalf("idle throttle still waited %s", d)
	}
}

func TestThrottleZeroSizePayload(t *testing.T) {
	tr := throttle{bytesPerSecond: 10000}
	now := time.Now()
	tr.reserve(now, 1000)
	if d := tr.reserve(now, 0); d != 0 {
		t.Fatalf("empty payload reserved %s", d)
	}
}
