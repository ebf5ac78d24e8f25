package connmgr

import (
	"context"
	"log/slog"
	"time"

	"github.com/flockd/flockd/internal/config"
	"github.com/flockd/flockd/internal/metrics"
)

// Manager drives outbound requests through rate limiting with priority
// admission, deduplication, response caching, pooled delivery with retry,
// and endpoint failover.
// Endpoints are ordered; the first is the primary and the rest are tried in
// order when the primary is exhausted.
type Manager struct {
	cfg     config.Connection
	limiter *RateLimiter
	admit   *admitQueue
	dedup   *deduper
	cache   *responseCache
	pool    *Pool
	retry   RetryPolicy
	pacer   throttle

	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(cfg config.Connection) *Manager {
	return &Manager{
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RequestsPerWindow, cfg.Window),
		admit:   newAdmitQueue(),
		dedup:   newDeduper(),
		cache:   newResponseCache(cfg.CacheTTL),
		pool:    NewPool(cfg.MaxPerDestination, cfg.ConnectTimeout),
		retry: RetryPolicy{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.InitialDelay,
			BackoffFactor: cfg.BackoffFactor,
		},
		pacer: throttle{bytesPerSecond: cfg.BytesPerSecond},
		sleep: sleepCtx,
	}
}

// PoolStats exposes per-destination connection records for the ops API.
func (m *Manager) PoolStats() []ConnRecord { return m.pool.Stats() }

// Execute sends one request. Concurrent callers with the same dedup key
// share a single delivery; a fresh cached response short-circuits the send.
// The caller waits at most one rate window for a slot before receiving
// *RateLimitedError; contenders for a freed slot are admitted highest
// priority first.
func (m *Manager) Execute(ctx context.Context, req Request) (Response, error) {
	if err := m.acquireRate(ctx, req.Priority); err != nil {
		metrics.IncRequest("rate_limited")
		return Response{}, err
	}

	key := req.DedupKey()
	p, leader := m.dedup.begin(key)
	if !leader {
		select {
		case <-p.done:
			metrics.IncRequest("deduped")
			return p.resp, p.err
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	resp, err := m.deliver(ctx, req, key)
	m.dedup.finish(key, p, resp, err)
	return resp, err
}

// deliver runs the leader's path: cache lookup, paced send with retry and
// failover, then cache store on success. Pacing sleeps before the send so a
// cancellation can never discard a response already earned.
func (m *Manager) deliver(ctx context.Context, req Request, key string) (Response, error) {
	if resp, ok := m.cache.get(key); ok {
		metrics.IncRequest("cached")
		return resp, nil
	}

	if d := m.pacer.reserve(time.Now(), len(req.Payload)); d > 0 {
		if err := m.sleep(ctx, d); err != nil {
			metrics.IncRequest("failed")
			return Response{}, err
		}
	}
	resp, err := m.send(ctx, req)
	if err != nil {
		metrics.IncRequest("failed")
		return Response{}, err
	}
	m.cache.put(key, resp)
	metrics.IncRequest("ok")
	return resp, nil
}

// send retries the primary endpoint per the backoff policy, then falls
// through the remaining endpoints one attempt each.
func (m *Manager) send(ctx context.Context, req Request) (Response, error) {
	primary := m.cfg.Endpoints[0]
	var lastErr error

	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		resp, err := m.pool.Do(ctx, primary, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return Response{}, err
		}
		if attempt == m.retry.MaxAttempts {
			break
		}
		metrics.IncRetry()
		d := m.retry.Delay(attempt)
		slog.Debug("retrying request", "endpoint", primary, "attempt", attempt, "delay", d, "error", err)
		if serr := m.sleep(ctx, d+Jitter(d)); serr != nil {
			return Response{}, serr
		}
	}

	for _, ep := range m.cfg.Endpoints[1:] {
		metrics.IncFailover()
		slog.Warn("failing over", "from", primary, "to", ep, "error", lastErr)
		resp, err := m.pool.Do(ctx, ep, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return Response{}, err
		}
	}
	return Response{}, &UpstreamUnavailableError{Err: lastErr}
}

// ExecuteBatch sends every request of a batch in order, stopping at the
// first error.
func (m *Manager) ExecuteBatch(ctx context.Context, b Batch) ([]Response, error) {
	out := make([]Response, 0, len(b.Requests))
	for _, r := range b.Requests {
		resp, err := m.Execute(ctx, r)
		if err != nil {
			return out, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// acquireRate waits for a rate slot, bounded by one full window. Refused
// callers park in the admission queue, so when the window resets the most
// urgent waiter retries first. A second refusal means the window is
// saturated by competing callers and the request is rejected rather than
// queued indefinitely.
func (m *Manager) acquireRate(ctx context.Context, priority int) error {
	ok, retryAfter := m.limiter.TryAcquire()
	if ok {
		return nil
	}
	w := m.admit.add(priority)
	defer m.admit.remove(w)
	if err := m.sleep(ctx, retryAfter); err != nil {
		return err
	}
	if err := m.admit.waitTurn(ctx, w); err != nil {
		return err
	}
	ok, retryAfter = m.limiter.TryAcquire()
	if ok {
		return nil
	}
	return &RateLimitedError{RetryAfter: retryAfter}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
