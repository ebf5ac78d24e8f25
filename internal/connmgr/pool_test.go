package connmgr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolDoRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost || r.URL.Path != "/tasks" || string(body) != "payload" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("accepted"))
	}))
	defer srv.Close()

	p := NewPool(2, 5*time.Second)
	resp, err := p.Do(context.Background(), srv.URL, Request{
		Method:  http.MethodPost,
		Path:    "/tasks",
		Payload: []byte("payload"),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "accepted" || resp.Endpoint != srv.URL {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPoolDoSurfacesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPool(1, 5*time.Second)
	_, err := p.Do(context.Background(), srv.URL, Request{Path: "/x"})
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("want *StatusError, got %T: %v", err, err)
	}
	if se.Code != http.StatusBadGateway || !se.Retryable() {
		t.Fatalf("unexpected status error: %+v", se)
	}
}

func TestPoolBoundsConcurrencyPerDestination(t *testing.T) {
	var inFlight, peak int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
	}))
	defer srv.Close()

	p := NewPool(2, 5*time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Do(context.Background(), srv.URL, Request{Path: "/"})
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt64(&peak); got > 2 {
		t.Fatalf("peak concurrency %d exceeds bound 2", got)
	}
}

func TestPoolStatsTracksUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := NewPool(1, 5*time.Second)
	for i := 0; i < 3; i++ {
		if _, err := p.Do(context.Background(), srv.URL, Request{Path: "/"}); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	stats := p.Stats()
	if len(stats) != 1 {
		t.Fatalf("want 1 destination record, got %d", len(stats))
	}
	rec := stats[0]
	if rec.Destination != srv.URL || rec.RequestCount != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.CreatedAt.IsZero() || rec.LastUsedAt.Before(rec.CreatedAt) {
		t.Fatalf("timestamps not maintained: %+v", rec)
	}
}
