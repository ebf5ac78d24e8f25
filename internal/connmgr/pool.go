package connmgr

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// ConnRecord is the pool's bookkeeping for one destination. It never leaves
// the pool; Stats returns copies.
type ConnRecord struct {
	Destination  string    `json:"destination"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	RequestCount int64     `json:"request_count"`
}

// pooledConn is one destination's reusable transport plus a semaphore
// bounding concurrent use.
type pooledConn struct {
	client *http.Client
	sem    chan struct{}
	rec    ConnRecord
}

// Pool owns a bounded set of reusable outbound connections keyed by
// destination. Map mutation happens under mu; network I/O never does.
type Pool struct {
	mu             sync.Mutex
	conns          map[string]*pooledConn
	maxPerDest     int
	connectTimeout time.Duration
}

func NewPool(maxPerDest int, connectTimeout time.Duration) *Pool {
	if maxPerDest <= 0 {
		maxPerDest = 4
	}
	return &Pool{
		conns:          make(map[string]*pooledConn),
		maxPerDest:     maxPerDest,
		connectTimeout: connectTimeout,
	}
}

func (p *Pool) get(dest string) *pooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.conns[dest]
	if !ok {
		pc = &pooledConn{
			client: &http.Client{
				Timeout: p.connectTimeout,
				Transport: &http.Transport{
					DialContext:         (&net.Dialer{Timeout: p.connectTimeout}).DialContext,
					MaxIdleConnsPerHost: p.maxPerDest,
					MaxConnsPerHost:     p.maxPerDest,
					IdleConnTimeout:     90 * time.Second,
				},
			},
			sem: make(chan struct{}, p.maxPerDest),
			rec: ConnRecord{Destination: dest, CreatedAt: time.Now()},
		}
		p.conns[dest] = pc
	}
	return pc
}

// Do sends req to dest, suspending the caller while the destination is at
// its concurrency bound. A non-2xx status is returned as *StatusError.
func (p *Pool) Do(ctx context.Context, dest string, req Request) (Response, error) {
	pc := p.get(dest)
	select {
	case pc.sem <- struct{}{}:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	defer func() { <-pc.sem }()

	p.mu.Lock()
	pc.rec.LastUsedAt = time.Now()
	pc.rec.RequestCount++
	p.mu.Unlock()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Payload) > 0 {
		body = bytes.NewReader(req.Payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, dest+req.Path, body)
	if err != nil {
		return Response{}, err
	}
	if len(req.Payload) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := pc.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &StatusError{Code: resp.StatusCode, Endpoint: dest}
	}
	return Response{StatusCode: resp.StatusCode, Body: data, Endpoint: dest}, nil
}

// Stats returns a copy of every destination's record.
func (p *Pool) Stats() []ConnRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnRecord, 0, len(p.conns))
	for _, pc := range p.conns {
		out = append(out, pc.rec)
	}
	return out
}
