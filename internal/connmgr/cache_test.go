package connmgr

import (
	"testing"
	"time"
)

func TestCacheReturnsFreshEntry(t *testing.T) {
	now := time.Unix(2000, 0)
	c := newResponseCache(30 * time.Second)
	c.now = func() time.Time { return now }

	c.put("k", Response{StatusCode: 200, Body: []byte("v")})
	got, ok := c.get("k")
	if !ok || string(got.Body) != "v" {
		t.Fatalf("fresh entry not served: ok=%v body=%q", ok, got.Body)
	}
}

func TestCacheExpiresByTTLOnly(t *testing.T) {
	now := time.Unix(2000, 0)
	c := newResponseCache(30 * time.Second)
	c.now = func() time.Time { return now }

	c.put("k", Response{StatusCode: 200})
	now = now.Add(29 * time.Second)
	if _, ok := c.get("k"); !ok {
		t.Fatal("entry expired before TTL")
	}
	now = now.Add(2 * time.Second)
	if _, ok := c.get("k"); ok {
		t.Fatal("entry served past TTL")
	}
	// expired entries are dropped on read
	c.mu.Lock()
	_, still := c.entries["k"]
	c.mu.Unlock()
	if still {
		t.Fatal("expired entry not evicted on read")
	}
}

func TestCacheDisabledWithZeroTTL(t *testing.T) {
	c := newResponseCache(0)
	c.put("k", Response{StatusCode: 200})
	if _, ok := c.get("k"); ok {
		t.Fatal("zero TTL cache must never serve")
	}
}
