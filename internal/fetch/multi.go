package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// minPollInterval keeps an overdue handle from spinning the worker while it
// winds down on its own.
const minPollInterval = 5 * time.Millisecond

// message reports that a transfer's Perform returned.
type message struct {
	elem     *queueElement
	err      error
	panicked bool
}

// transfer tracks one running handle.
type transfer struct {
	cancel   context.CancelFunc
	done     chan struct{}
	deadline time.Time
	started  time.Time
}

// multi multiplexes many concurrent transfers for the worker.
//
// Each added handle runs Perform on its own goroutine. Finished transfers
// post a message to an unbounded pending list and signal the worker, which
// collects them with perform and infoRead. Apart from post, every method
// is called only from the worker goroutine.
type multi struct {
	logger *slog.Logger
	active map[*queueElement]*transfer
	ready  []message
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []message
	signal  chan struct{}
}

func newMulti(logger *slog.Logger) *multi {
	return &multi{
		logger: logger,
		active: make(map[*queueElement]*transfer),
		signal: make(chan struct{}, 1),
	}
}

// add starts the element's handle.
func (m *multi) add(e *queueElement) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &transfer{
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	if d, ok := e.req.Handle.(Deadliner); ok {
		if dl, ok := d.Deadline(); ok {
			t.deadline = dl
		}
	}
	m.active[e] = t

	m.wg.Add(1)
	go m.run(ctx, e, t)
}

func (m *multi) run(ctx context.Context, e *queueElement, t *transfer) {
	defer m.wg.Done()
	defer close(t.done)

	msg := message{elem: e}
	func() {
		defer func() {
			if r := recover(); r != nil {
				msg.panicked = true
				msg.err = fmt.Errorf("transfer panicked: %v", r)
				m.logger.Error("transfer panicked",
					"request_id", e.req.ID,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		msg.err = e.req.Handle.Perform(ctx)
	}()
	m.post(msg)
}

// post appends a finished-transfer message. Never blocks.
func (m *multi) post(msg message) {
	m.mu.Lock()
	m.pending = append(m.pending, msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// timeout returns how long the next poll may block: the time to the
// earliest handle deadline, clamped to [minPollInterval, limit].
func (m *multi) timeout(limit time.Duration) time.Duration {
	wait := limit
	now := time.Now()
	for _, t := range m.active {
		if t.deadline.IsZero() {
			continue
		}
		if d := t.deadline.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < minPollInterval {
		wait = minPollInterval
	}
	return wait
}

// poll waits until a transfer finishes, wake fires, or timeout elapses.
func (m *multi) poll(timeout time.Duration, wake <-chan struct{}) {
	m.mu.Lock()
	n := len(m.pending)
	m.mu.Unlock()
	if n > 0 {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.signal:
	case <-wake:
	case <-timer.C:
	}
}

// perform moves finished transfers into the ready list and returns how many
// transfers are still running. Messages for removed transfers are dropped.
func (m *multi) perform() int {
	m.mu.Lock()
	msgs := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, msg := range msgs {
		if _, ok := m.active[msg.elem]; ok {
			m.ready = append(m.ready, msg)
		}
	}
	return len(m.active) - len(m.ready)
}

// infoRead pops the next finished transfer.
func (m *multi) infoRead() (message, bool) {
	if len(m.ready) == 0 {
		return message{}, false
	}
	msg := m.ready[0]
	m.ready[0] = message{}
	m.ready = m.ready[1:]
	if len(m.ready) == 0 {
		m.ready = nil
	}
	return msg, true
}

// detach forgets a transfer whose Perform already returned.
func (m *multi) detach(e *queueElement) (*transfer, bool) {
	t, ok := m.active[e]
	if !ok {
		return nil, false
	}
	delete(m.active, e)
	return t, true
}

// remove cancels a running transfer and waits for its Perform to return.
func (m *multi) remove(e *queueElement) bool {
	t, ok := m.active[e]
	if !ok {
		return false
	}
	delete(m.active, e)
	t.cancel()
	<-t.done
	return true
}

// count returns the number of transfers owned by the multiplexer.
func (m *multi) count() int {
	return len(m.active)
}

// close cancels every transfer and waits for all of them to return.
func (m *multi) close() {
	for _, t := range m.active {
		t.cancel()
	}
	m.wg.Wait()
	m.active = make(map[*queueElement]*transfer)
	m.ready = nil

	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
}
