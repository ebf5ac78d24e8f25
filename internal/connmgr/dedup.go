package connmgr

import "sync"

// pending tracks one in-flight request. Followers wait on done and read
// resp/err afterwards.
type pending struct {
	done chan struct{}
	resp Response
	err  error
}

// deduper merges concurrent requests that share a dedup key so only the
// first caller performs the network work.
type deduper struct {
	mu       sync.Mutex
	inFlight map[string]*pending
}

func newDeduper() *deduper {
	return &deduper{inFlight: make(map[string]*pending)}
}

// begin returns the pending slot for key and whether the caller is the
// leader. The leader must call finish exactly once.
func (d *deduper) begin(key string) (*pending, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.inFlight[key]; ok {
		return p, false
	}
	p := &pending{done: make(chan struct{})}
	d.inFlight[key] = p
	return p, true
}

// finish publishes the leader's result and releases followers.
func (d *deduper) finish(key string, p *pending, resp Response, err error) {
	p.resp = resp
	p.err = err
	d.mu.Lock()
	delete(d.inFlight, key)
	d.mu.Unlock()
	close(p.done)
}
