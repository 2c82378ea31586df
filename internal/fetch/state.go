package fetch

import (
	"fmt"
	"sync"
)

// WorkerState is the worker's current directive.
type WorkerState int

const (
	// StateWait: idle, blocked until signalled.
	StateWait WorkerState = iota
	// StateRunning: transfers active, polling.
	StateRunning
	// StateAdmit: new requests queued, claim them.
	StateAdmit
	// StateRemove: a cancellation is pending.
	StateRemove
	// StateStop: tear everything down and exit.
	StateStop
)

var stateNames = [...]string{
	StateWait:    "WAIT",
	StateRunning: "RUNNING",
	StateAdmit:   "ADMIT",
	StateRemove:  "REMOVE",
	StateStop:    "STOP",
}

// String returns the upper-case name of the state.
func (s WorkerState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
	return stateNames[s]
}

// outranks reports whether a request for s may replace a pending other.
// Constant order: STOP > REMOVE > ADMIT > RUNNING > WAIT.
func (s WorkerState) outranks(other WorkerState) bool {
	return s >= other
}

// stateMachine carries directives from submitters to the worker.
//
// The wake channel is buffered with size 1 so signals coalesce and a signal
// sent between the worker's state check and its receive is never lost.
type stateMachine struct {
	mu     sync.Mutex
	state  WorkerState
	target *Request // removal target, set only while state is REMOVE
	wake   chan struct{}
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		state: StateWait,
		wake:  make(chan struct{}, 1),
	}
}

// Current returns the pending directive.
func (m *stateMachine) Current() WorkerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Signal raises the directive to to unless a higher-priority directive is
// pending, then wakes the worker. Returns false once STOP is pending.
func (m *stateMachine) Signal(to WorkerState) bool {
	m.mu.Lock()
	if m.state == StateStop {
		m.mu.Unlock()
		return false
	}
	if to.outranks(m.state) {
		m.state = to
	}
	m.mu.Unlock()
	m.kick()
	return true
}

// Advance moves from -> to only if from is still the pending directive.
// The worker uses it for its own transitions so it never clobbers a signal
// that arrived while it was busy.
func (m *stateMachine) Advance(from, to WorkerState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return false
	}
	m.state = to
	return true
}

// RequestRemoval records req as the removal target and raises REMOVE.
// The caller must hold the removal slot. Returns false once STOP is pending.
func (m *stateMachine) RequestRemoval(req *Request) bool {
	m.mu.Lock()
	if m.state == StateStop {
		m.mu.Unlock()
		return false
	}
	m.target = req
	m.state = StateRemove
	m.mu.Unlock()
	m.kick()
	return true
}

// TakeRemoval consumes a pending REMOVE, leaving the worker RUNNING.
func (m *stateMachine) TakeRemoval() (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRemove {
		return nil, false
	}
	req := m.target
	m.target = nil
	m.state = StateRunning
	return req, true
}

// ClearRemoval drops a removal target that will never be processed.
// Reports whether one was pending.
func (m *stateMachine) ClearRemoval() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.target != nil
	m.target = nil
	return pending
}

// Await blocks while the directive is WAIT and returns the first other one.
func (m *stateMachine) Await() WorkerState {
	for {
		if s := m.Current(); s != StateWait {
			return s
		}
		<-m.wake
	}
}

// Wake returns the channel the poll step selects on to cut a poll short.
func (m *stateMachine) Wake() <-chan struct{} {
	return m.wake
}

func (m *stateMachine) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
