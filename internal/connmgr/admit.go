package connmgr

import (
	"container/heap"
	"context"
	"sync"
)

// waiter is one caller parked for rate capacity. Higher priority is served
// first; ties break by arrival order.
type waiter struct {
	priority int
	seq      uint64
	index    int
	ready    chan struct{}
}

type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// admitQueue orders callers contending for rate capacity. A waiter parks
// until it reaches the head of the queue, so when a window frees up the
// most urgent request claims the slot first.
type admitQueue struct {
	mu  sync.Mutex
	seq uint64
	ws  waiterHeap
}

func newAdmitQueue() *admitQueue { return &admitQueue{} }

func (q *admitQueue) add(priority int) *waiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	w := &waiter{priority: priority, seq: q.seq, ready: make(chan struct{}, 1)}
	heap.Push(&q.ws, w)
	q.signalHeadLocked()
	return w
}

// remove takes w out of the queue and wakes the next head. Safe to call for
// a waiter that already left.
func (q *admitQueue) remove(w *waiter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w.index >= 0 {
		heap.Remove(&q.ws, w.index)
	}
	q.signalHeadLocked()
}

func (q *admitQueue) signalHeadLocked() {
	if len(q.ws) == 0 {
		return
	}
	select {
	case q.ws[0].ready <- struct{}{}:
	default:
	}
}

// waitTurn blocks until w is at the head of the queue or ctx ends. The
// waiter stays queued afterwards; the caller removes it when finished.
func (q *admitQueue) waitTurn(ctx context.Context, w *waiter) error {
	for {
		q.mu.Lock()
		head := len(q.ws) > 0 && q.ws[0] == w
		q.mu.Unlock()
		if head {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.ready:
		}
	}
}
