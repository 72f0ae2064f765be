// Package queue hands HTTP-origin requests to the canvas host goroutine.
// Transport goroutines enqueue and wait; only the host drains.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewiresh/cadwire/internal/protocol"
)

// QueuedRequest is a request waiting for the host, paired with a slot that
// receives its response exactly once.
type QueuedRequest struct {
	Request protocol.CommandRequest
	Arrived time.Time

	consumed atomic.Bool
	done     chan protocol.CommandResponse
}

// Fulfill stores resp in the slot. It reports false when the slot was
// already consumed, either by an earlier Fulfill or by the waiter giving up.
func (q *QueuedRequest) Fulfill(resp protocol.CommandResponse) bool {
	if !q.consumed.CompareAndSwap(false, true) {
		return false
	}
	q.done <- resp
	return true
}

// Consumed reports whether the slot can no longer be filled.
func (q *QueuedRequest) Consumed() bool { return q.consumed.Load() }

// Done delivers the response once the slot is filled.
func (q *QueuedRequest) Done() <-chan protocol.CommandResponse { return q.done }

// Queue is a FIFO of pending requests. All methods are safe for concurrent
// use.
type Queue struct {
	mu      sync.Mutex
	items   []*QueuedRequest
	pending map[string]*QueuedRequest
	now     func() time.Time
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{pending: make(map[string]*QueuedRequest), now: time.Now}
}

// Enqueue appends req. An id that is still pending is rejected so that
// every response correlates to exactly one waiter.
func (q *Queue) Enqueue(req protocol.CommandRequest) (*QueuedRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.pending[req.ID]; dup {
		return nil, protocol.Errorf(protocol.KindValidation, "request id %q is already pending", req.ID).
			WithDetail(protocol.NewMap().Set("id", protocol.String(req.ID)))
	}
	item := &QueuedRequest{
		Request: req,
		Arrived: q.now(),
		done:    make(chan protocol.CommandResponse, 1),
	}
	q.items = append(q.items, item)
	q.pending[req.ID] = item
	return item, nil
}

// Len returns the number of queued requests not yet drained.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain takes every request queued at call time and fulfills each with
// fn's response in FIFO order. Requests whose waiter already gave up are
// skipped without calling fn. Requests enqueued while draining wait for the
// next call. It returns how many requests fn ran.
func (q *Queue) Drain(fn func(protocol.CommandRequest) protocol.CommandResponse) int {
	q.mu.Lock()
	batch := q.items
	q.items = nil
	q.mu.Unlock()

	ran := 0
	for _, item := range batch {
		if item.Consumed() {
			q.release(item)
			continue
		}
		resp := fn(item.Request)
		ran++
		item.Fulfill(resp)
		q.release(item)
	}
	return ran
}

// Wait blocks until item's response arrives, ctx ends, or bound elapses.
// On expiry the waiter claims the slot itself, removes item from the queue
// and returns a Timeout response; a later completion is dropped.
func (q *Queue) Wait(ctx context.Context, item *QueuedRequest, bound time.Duration) protocol.CommandResponse {
	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case resp := <-item.done:
		return resp
	case <-timer.C:
	case <-ctx.Done():
	}

	if !item.consumed.CompareAndSwap(false, true) {
		// The host fulfilled the slot while we were giving up.
		return <-item.done
	}
	q.remove(item)
	return protocol.Fail(item.Request.ID, protocol.Errorf(protocol.KindTimeout,
		"no response from host within %s", bound))
}

func (q *Queue) release(item *QueuedRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[item.Request.ID] == item {
		delete(q.pending, item.Request.ID)
	}
}

func (q *Queue) remove(item *QueuedRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it == item {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	if q.pending[item.Request.ID] == item {
		delete(q.pending, item.Request.ID)
	}
}
