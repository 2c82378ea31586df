package fetch

import (
	"sync"
	"sync/atomic"
	"time"
)

// queueElement links a Request into the queue for one admission cycle.
type queueElement struct {
	req        *Request
	seq        int64
	admittedAt time.Time

	// claimed flips false->true exactly once, when the worker hands the
	// element's handle to the multiplexer.
	claimed atomic.Bool
}

// claim attempts to take ownership of the element. Non-blocking; at most one
// caller ever succeeds.
func (e *queueElement) claim() bool {
	return e.claimed.CompareAndSwap(false, true)
}

// requestQueue holds every outstanding admission in arrival order.
//
// Enqueue is called from submitter goroutines. Everything that unlinks an
// element (RemoveIf, Remove, TakeAll) runs on the worker goroutine, and the
// goroutine that unlinks an element is the one that resolves it.
//
// The mutex guards pointer manipulation only; it is never held across a
// poll or a transfer.
type requestQueue struct {
	mu       sync.Mutex
	elements []*queueElement
	index    map[*Request]*queueElement
	closed   bool
	clock    *Clock
}

// newRequestQueue creates an empty request queue.
func newRequestQueue(clock *Clock) *requestQueue {
	return &requestQueue{
		elements: make([]*queueElement, 0, 16),
		index:    make(map[*Request]*queueElement),
		clock:    clock,
	}
}

// Enqueue appends a new element for req.
// Returns ErrEngineStopped once the queue is closed, and a
// DUPLICATE_SUBMISSION error if req is already linked.
func (q *requestQueue) Enqueue(req *Request) (*queueElement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrEngineStopped
	}
	if _, dup := q.index[req]; dup {
		return nil, newDuplicateError(req.ID)
	}

	e := &queueElement{
		req:        req,
		seq:        q.clock.Next(),
		admittedAt: time.Now(),
	}
	req.stamp(e.seq)
	q.elements = append(q.elements, e)
	q.index[req] = e
	return e, nil
}

// Drain visits every unclaimed element in order, so the visitor may try to
// claim it.
func (q *requestQueue) Drain(visit func(*queueElement)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.elements {
		if e.claimed.Load() {
			continue
		}
		visit(e)
	}
}

// RemoveIf unlinks and returns the first element matching pred.
func (q *requestQueue) RemoveIf(pred func(*queueElement) bool) *queueElement {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.elements {
		if pred(e) {
			q.unlinkAt(i)
			return e
		}
	}
	return nil
}

// Remove unlinks and returns the element for req, or nil if req is not queued.
func (q *requestQueue) Remove(req *Request) *queueElement {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.index[req]
	if !ok {
		return nil
	}
	for i, x := range q.elements {
		if x == e {
			q.unlinkAt(i)
			break
		}
	}
	return e
}

// unlinkAt removes the element at i. Caller holds q.mu.
func (q *requestQueue) unlinkAt(i int) {
	e := q.elements[i]
	copy(q.elements[i:], q.elements[i+1:])
	// Nil the vacated tail slot so the backing array does not pin the request.
	q.elements[len(q.elements)-1] = nil
	q.elements = q.elements[:len(q.elements)-1]
	delete(q.index, e.req)
}

// TakeAll closes the queue and unlinks every element.
// Enqueue fails after TakeAll returns.
func (q *requestQueue) TakeAll() []*queueElement {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	out := q.elements
	q.elements = nil
	q.index = make(map[*Request]*queueElement)
	return out
}

// Len returns the number of linked elements.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.elements)
}

// Unclaimed returns the number of linked elements not yet claimed.
func (q *requestQueue) Unclaimed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.elements {
		if !e.claimed.Load() {
			n++
		}
	}
	return n
}
