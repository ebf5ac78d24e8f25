package connmgr

import (
	"crypto/sha256"
	"encoding/hex"
)

// Request is one outbound call. Kind groups homogeneous requests for
// batching; Key collapses concurrent identical requests and addresses the
// response cache. An empty Key is derived from the request identity.
// Priority orders callers contending for rate capacity, higher first; the
// zero value is fine for traffic that never saturates the window.
type Request struct {
	Method   string
	Path     string
	Kind     string
	Priority int
	Payload  []byte
	Key      string
}

// DedupKey returns the explicit key or one derived from method, path, and
// payload.
func (r Request) DedupKey() string {
	if r.Key != "" {
		return r.Key
	}
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.Path))
	h.Write([]byte{0})
	h.Write(r.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Response is the outcome of a successful call.
type Response struct {
	StatusCode int
	Body       []byte
	Endpoint   string
}

// Batch is an ordered slice of homogeneous requests submitted together.
type Batch struct {
	Kind     string
	Requests []Request
}

// CreateBatches splits requests into batches of at most maxBatchSize,
// preserving original request order. A new batch starts whenever the kind
// changes or the current batch is full.
func CreateBatches(requests []Request, maxBatchSize int) []Batch {
	if maxBatchSize <= 0 || len(requests) == 0 {
		return nil
	}
	var out []Batch
	var cur Batch
	for _, r := range requests {
		if len(cur.Requests) > 0 && (cur.Kind != r.Kind || len(cur.Requests) == maxBatchSize) {
			out = append(out, cur)
			cur = Batch{}
		}
		if len(cur.Requests) == 0 {
			cur.Kind = r.Kind
		}
		cur.Requests = append(cur.Requests, r)
	}
	out = append(out, cur)
	return out
}
