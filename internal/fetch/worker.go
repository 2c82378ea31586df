package fetch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/muxfetch/internal/metrics"
)

// worker is one run of the engine's background goroutine, from the 0->1
// acquire to the 1->0 release. A fresh worker is built for every run.
type worker struct {
	queue   *requestQueue
	state   *stateMachine
	multi   *multi
	logger  *slog.Logger
	metrics *metrics.EngineMetrics

	maxPoll  time.Duration
	startup  func(context.Context) error
	observer func(*Request, Result)

	// removeSlot serializes cancellers: a canceller fills it before posting
	// a removal target and the worker drains it once the removal is done.
	removeSlot chan struct{}

	active atomic.Int64
	done   chan struct{}
}

func newWorker(e *Engine) *worker {
	return &worker{
		queue:      newRequestQueue(NewClock()),
		state:      newStateMachine(),
		logger:     e.logger,
		metrics:    e.metrics,
		maxPoll:    e.maxPoll,
		startup:    e.startup,
		observer:   e.observer,
		removeSlot: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// run is the worker goroutine. It reports readiness exactly once on ready,
// then loops until STOP has been handled.
func (w *worker) run(ctx context.Context, ready chan<- error) {
	defer close(w.done)

	if w.startup != nil {
		if err := w.startup(ctx); err != nil {
			w.metrics.RecordWorkerStart(false)
			ready <- err
			return
		}
	}
	w.multi = newMulti(w.logger)
	w.metrics.RecordWorkerStart(true)
	ready <- nil

	w.logger.Info("fetch worker started", "max_poll_interval", w.maxPoll)

	for {
		switch s := w.state.Await(); s {
		case StateAdmit:
			w.admit()
		case StateRunning:
			w.poll()
		case StateRemove:
			w.removeTarget()
		case StateStop:
			w.shutdown()
			w.logger.Info("fetch worker stopped")
			return
		default:
			w.logger.Warn("unexpected worker state", "state", s.String())
			w.state.Advance(s, StateRunning)
		}
	}
}

// admit claims every unclaimed element and starts its transfer.
func (w *worker) admit() {
	// Consume the directive before walking the queue: an ADMIT raised during
	// the walk must survive for the next cycle.
	w.state.Advance(StateAdmit, StateRunning)

	var claimed []*queueElement
	w.queue.Drain(func(e *queueElement) {
		if e.claim() {
			claimed = append(claimed, e)
		}
	})

	if len(claimed) == 0 {
		w.logger.Debug("admission pass claimed nothing")
		return
	}
	for _, e := range claimed {
		w.multi.add(e)
		w.logger.Debug("transfer started", "request_id", e.req.ID, "seq", e.seq)
	}
	w.metrics.AddAdmissions(len(claimed))
	w.syncGauges()
}

// poll runs one RUNNING cycle.
func (w *worker) poll() {
	if w.multi.count() > 0 {
		w.multi.poll(w.multi.timeout(w.maxPoll), w.state.Wake())
		running := w.multi.perform()
		w.metrics.IncPollCycles()

		for {
			msg, ok := w.multi.infoRead()
			if !ok {
				break
			}
			w.complete(msg)
		}
		w.syncGauges()

		if running > 0 {
			return
		}
	}

	if w.multi.count() == 0 && w.state.Advance(StateRunning, StateWait) {
		w.logger.Debug("worker idle")
	}
}

// complete resolves a transfer whose Perform returned.
func (w *worker) complete(msg message) {
	e := msg.elem
	t, ok := w.multi.detach(e)
	if !ok {
		return
	}
	if w.queue.RemoveIf(func(x *queueElement) bool { return x == e }) == nil {
		w.logger.Error("finished transfer missing from queue", "request_id", e.req.ID, "seq", e.seq)
		return
	}

	res := ResultDone
	if msg.panicked {
		res = ResultTotalError
	}
	w.logger.Debug("transfer finished",
		"request_id", e.req.ID,
		"seq", e.seq,
		"elapsed", time.Since(t.started),
		"error", msg.err)
	w.finish(e, res)
}

// removeTarget handles a pending cancellation.
func (w *worker) removeTarget() {
	req, ok := w.state.TakeRemoval()
	if !ok {
		return
	}

	if e := w.queue.Remove(req); e == nil {
		w.logger.Debug("removal target not queued", "request_id", req.id())
	} else {
		if e.claimed.Load() {
			w.multi.remove(e)
		}
		w.finish(e, ResultRemoved)
		w.logger.Info("request removed", "request_id", req.ID, "seq", e.seq)
	}
	w.syncGauges()

	// The next canceller may post only after this target is resolved.
	<-w.removeSlot

	// An ADMIT that arrived while REMOVE was pending was absorbed by it.
	if w.queue.Unclaimed() > 0 {
		w.state.Signal(StateAdmit)
	}
}

// shutdown resolves everything still queued with SHUTDOWN.
func (w *worker) shutdown() {
	elems := w.queue.TakeAll()
	w.multi.close()

	for _, e := range elems {
		w.finish(e, ResultShutdown)
	}
	if w.state.ClearRemoval() {
		<-w.removeSlot
	}
	w.syncGauges()

	if len(elems) > 0 {
		w.logger.Info("outstanding requests shut down", "count", len(elems))
	}
}

// finish delivers res to the element's submitter. The caller has already
// unlinked e from the queue, which makes this the only delivery.
func (w *worker) finish(e *queueElement, res Result) {
	// Record before firing so the submitter never wakes ahead of its own
	// bookkeeping.
	w.metrics.ObserveResult(res.String())
	if w.observer != nil {
		w.observer(e.req, res)
	}
	if !e.req.complete(res) {
		w.logger.Error("completion fired twice", "request_id", e.req.ID, "seq", e.seq)
	}
}

func (w *worker) syncGauges() {
	n := w.multi.count()
	w.active.Store(int64(n))
	w.metrics.SetActiveTransfers(n)
	w.metrics.SetQueueDepth(w.queue.Len())
}

// cancel posts req as the removal target. It blocks only while another
// removal is in flight; the outcome reaches req's submitter, not the
// canceller. Safe to call for requests that are not queued.
func (w *worker) cancel(req *Request) error {
	select {
	case w.removeSlot <- struct{}{}:
	case <-w.done:
		return ErrEngineStopped
	}

	if !w.state.RequestRemoval(req) {
		<-w.removeSlot
		return ErrEngineStopped
	}
	return nil
}

// stop raises STOP. Returns false if STOP was already pending.
func (w *worker) stop() bool {
	return w.state.Signal(StateStop)
}
