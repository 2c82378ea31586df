package fetch

import (
	"context"
	"sync/atomic"
)

// completion is a one-shot future resolved by the worker.
//
// The result is written before done is closed, so any reader that observed
// done being closed also observes the result.
type completion struct {
	fired  atomic.Bool
	result Result
	done   chan struct{}
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

// Fire resolves the future. Only the first call has an effect; it reports
// whether this call was the one that resolved it.
func (c *completion) Fire(r Result) bool {
	if !c.fired.CompareAndSwap(false, true) {
		return false
	}
	c.result = r
	close(c.done)
	return true
}

// Wait blocks until the future is resolved or ctx is done.
func (c *completion) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return ResultNone, ctx.Err()
	}
}

// Done is closed once the future is resolved.
func (c *completion) Done() <-chan struct{} {
	return c.done
}

// Result returns the resolved value, or ResultNone if not yet fired.
func (c *completion) Result() Result {
	select {
	case <-c.done:
		return c.result
	default:
		return ResultNone
	}
}
