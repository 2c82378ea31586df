package fetch

import (
	"context"
	"sync"
	"time"
)

// Handle is a transfer the engine drives on behalf of a caller.
//
// Perform runs the transfer to completion on a goroutine owned by the
// engine. It must return promptly once ctx is cancelled: removal and
// shutdown wait for Perform to return before resolving the caller, so the
// caller may safely inspect the handle as soon as Submit returns.
//
// A non-nil error from Perform still yields ResultDone. Protocol failures
// are the handle's business; only a panic inside Perform is reported as
// ResultTotalError.
type Handle interface {
	Perform(ctx context.Context) error
}

// Deadliner is implemented by handles with an overall deadline. The engine
// uses it to shorten its poll interval, never to abort the transfer.
type Deadliner interface {
	Deadline() (time.Time, bool)
}

// Request is a caller-owned record submitted to the engine.
//
// A Request may be resubmitted after Submit returns; each submission is a
// separate admission cycle with its own sequence number and result.
type Request struct {
	// ID identifies the request in logs and journals. Assigned by the
	// engine's IDGenerator on first submission when empty. Set it before
	// the request is shared with other goroutines.
	ID string

	// Handle is the transfer to perform.
	Handle Handle

	mu     sync.Mutex
	queued bool
	seq    int64
	result Result
	comp   *completion
}

// NewRequest creates a request for the given handle.
func NewRequest(h Handle) *Request {
	return &Request{Handle: h}
}

// Result returns the outcome of the most recent admission cycle.
func (r *Request) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Seq returns the admission sequence number of the most recent cycle.
func (r *Request) Seq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Outstanding reports whether the request is admitted and not yet resolved.
func (r *Request) Outstanding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queued
}

// begin opens a new admission cycle, naming the request from ids if it
// has no ID yet.
func (r *Request) begin(ids IDGenerator) (*completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queued {
		return nil, newDuplicateError(r.ID)
	}
	if r.ID == "" && ids != nil {
		r.ID = ids.Generate()
	}
	r.queued = true
	r.result = ResultNone
	r.seq = 0
	r.comp = newCompletion()
	return r.comp, nil
}

// abort closes a cycle that never reached the queue.
func (r *Request) abort(res Result) {
	r.mu.Lock()
	r.queued = false
	r.result = res
	c := r.comp
	r.mu.Unlock()
	c.Fire(res)
}

// id reads ID for goroutines that may race the first Submit.
func (r *Request) id() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ID
}

func (r *Request) stamp(seq int64) {
	r.mu.Lock()
	r.seq = seq
	r.mu.Unlock()
}

// complete records the result and resolves the caller's future.
func (r *Request) complete(res Result) bool {
	r.mu.Lock()
	r.queued = false
	r.result = res
	c := r.comp
	r.mu.Unlock()
	if c == nil {
		return false
	}
	return c.Fire(res)
}
