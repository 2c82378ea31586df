package fetch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/muxfetch/internal/metrics"
)

// DefaultMaxPollInterval bounds how long a RUNNING cycle may block.
const DefaultMaxPollInterval = time.Second

// Engine multiplexes transfers submitted by many goroutines onto a single
// background worker.
//
// Thread-safety model:
//   - Acquire, Release: safe from any goroutine, serialized by the lifecycle mutex
//   - Submit, Cancel: safe from any goroutine while the caller holds a reference
//
// The worker runs while at least one holder has acquired the engine. A full
// release stops it; the next Acquire starts a fresh one.
type Engine struct {
	logger   *slog.Logger
	metrics  *metrics.EngineMetrics
	ids      IDGenerator
	maxPoll  time.Duration
	startup  func(context.Context) error
	observer func(*Request, Result)

	mu     sync.Mutex // guards refs and worker start/stop
	refs   int
	worker atomic.Pointer[worker]
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.EngineMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithIDGenerator sets the generator used for requests submitted without an ID.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithMaxPollInterval sets the upper bound on a single poll.
// Non-positive values keep DefaultMaxPollInterval.
func WithMaxPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.maxPoll = d
		}
	}
}

// WithStartup registers a hook the worker runs before reporting readiness.
// A non-nil error aborts the start and Acquire returns an INIT_FAILED error.
func WithStartup(fn func(context.Context) error) EngineOption {
	return func(e *Engine) {
		e.startup = fn
	}
}

// WithObserver registers a callback invoked on the worker goroutine after
// every resolution. It must not block and must not call back into the engine.
func WithObserver(fn func(*Request, Result)) EngineOption {
	return func(e *Engine) {
		e.observer = fn
	}
}

// New creates a stopped Engine.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:  slog.Default(),
		ids:     UUIDv7Generator{},
		maxPoll: DefaultMaxPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Acquire registers a holder. The first holder starts the worker and blocks
// until it is ready. On start failure the holder count is left unchanged and
// an error satisfying IsInitError is returned.
func (e *Engine) Acquire(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.refs == 0 {
		w := newWorker(e)
		ready := make(chan error, 1)
		go w.run(ctx, ready)

		if err := <-ready; err != nil {
			<-w.done
			e.logger.Error("fetch worker failed to start", "error", err)
			return newInitError(err)
		}
		e.worker.Store(w)
	}

	e.refs++
	e.logger.Debug("engine acquired", "refs", e.refs)
	return nil
}

// Release drops a holder. The last holder stops the worker and waits for it
// to exit; every outstanding request is resolved with ResultShutdown first.
// Returns ErrNotAcquired if there are no holders.
func (e *Engine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.refs == 0 {
		return ErrNotAcquired
	}
	e.refs--
	e.logger.Debug("engine released", "refs", e.refs)

	if e.refs == 0 {
		w := e.worker.Swap(nil)
		w.stop()
		<-w.done
	}
	return nil
}

// Submit admits req and blocks until it is resolved.
//
// The returned error is nil whenever the engine delivered a result. If ctx
// ends first the request is cancelled, Submit still waits for its single
// resolution, and ctx.Err() is returned alongside that result unless the
// transfer had already finished (ResultDone).
//
// Submitting a request that is already outstanding returns ResultBadQueue
// and a DUPLICATE_SUBMISSION error without disturbing the original.
func (e *Engine) Submit(ctx context.Context, req *Request) (Result, error) {
	if req == nil || req.Handle == nil {
		return ResultBadQueue, ErrInvalidRequest
	}
	w := e.worker.Load()
	if w == nil {
		return ResultShutdown, ErrNotAcquired
	}
	comp, err := req.begin(e.ids)
	if err != nil {
		return ResultBadQueue, err
	}

	started := time.Now()
	if _, err := w.queue.Enqueue(req); err != nil {
		res := ResultBadQueue
		if errors.Is(err, ErrEngineStopped) {
			res = ResultShutdown
		}
		req.abort(res)
		return res, err
	}
	w.state.Signal(StateAdmit)

	res, err := comp.Wait(ctx)
	if err != nil {
		e.logger.Debug("submitter gave up, cancelling", "request_id", req.ID, "error", err)
		if cerr := w.cancel(req); cerr != nil && !errors.Is(cerr, ErrEngineStopped) {
			e.logger.Warn("cancel after context end failed", "request_id", req.ID, "error", cerr)
		}
		<-comp.Done()
		res = comp.Result()
		if res == ResultDone {
			err = nil
		}
	}

	e.metrics.ObserveSubmit(res.String(), time.Since(started))
	return res, err
}

// Cancel withdraws req. It returns as soon as the removal is posted and
// waits only while another cancellation is in flight. If req is still
// outstanding when the worker gets to it, its submitter is resolved with
// ResultRemoved; otherwise the cancellation is a no-op.
//
// Returns ErrEngineStopped if the engine is not running.
func (e *Engine) Cancel(req *Request) error {
	if req == nil {
		return ErrInvalidRequest
	}
	w := e.worker.Load()
	if w == nil {
		return ErrEngineStopped
	}
	return w.cancel(req)
}

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	Refs    int
	Running bool
	Queued  int
	Active  int
	State   WorkerState
}

// Stats returns a snapshot of the engine.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	refs := e.refs
	e.mu.Unlock()

	s := Stats{Refs: refs, State: StateStop}
	if w := e.worker.Load(); w != nil {
		s.Running = true
		s.Queued = w.queue.Len()
		s.Active = int(w.active.Load())
		s.State = w.state.Current()
	}
	return s
}
