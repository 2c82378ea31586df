package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/muxfetch/internal/fetch"
	"github.com/roach88/muxfetch/internal/httpfetch"
)

// harnessPollInterval keeps scenario timing tight.
const harnessPollInterval = 20 * time.Millisecond

// Harness runs scenarios against one origin.
type Harness struct {
	baseURL string
	logger  *slog.Logger
}

// New creates a harness for the origin at baseURL. A nil logger discards
// engine logs.
func New(baseURL string, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Harness{baseURL: baseURL, logger: logger}
}

// Run executes a scenario on a fresh engine and returns the result.
//
// Execution flow:
//  1. Create an engine and acquire it
//  2. Start one goroutine per request; each submits its rounds in turn
//  3. Arm cancel_after and release_after timers
//  4. Wait for every submitter, then release (unless already released)
//  5. Check expectations and the engine's final state
//
// A returned error means the scenario could not run; expectation mismatches
// are reported in Result.Errors.
func (h *Harness) Run(ctx context.Context, s *Scenario) (*Result, error) {
	client, err := httpfetch.NewClient(httpfetch.DefaultClientConfig(), httpfetch.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	defer client.CloseIdleConnections()

	eng := fetch.New(
		fetch.WithLogger(h.logger),
		fetch.WithMaxPollInterval(harnessPollInterval),
	)
	if err := eng.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire engine: %w", err)
	}

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			if err := eng.Release(); err != nil {
				h.logger.Error("release failed", "scenario", s.Name, "error", err)
			}
		})
	}
	if d := mustDuration(s.ReleaseAfter); d > 0 {
		timer := time.AfterFunc(d, release)
		defer timer.Stop()
	}

	events := make([][]TraceEvent, len(s.Requests))
	var wg sync.WaitGroup
	for i, step := range s.Requests {
		tr, err := client.NewTransfer(step.options(h.baseURL))
		if err != nil {
			release()
			wg.Wait()
			return nil, fmt.Errorf("request %q: %w", step.Name, err)
		}
		req := fetch.NewRequest(tr)
		req.ID = s.Name + "/" + step.Name

		wg.Add(1)
		go func(i int, step RequestStep) {
			defer wg.Done()
			if d := mustDuration(step.CancelAfter); d > 0 {
				timer := time.AfterFunc(d, func() {
					if err := eng.Cancel(req); err != nil {
						h.logger.Debug("cancel skipped", "request", step.Name, "error", err)
					}
				})
				defer timer.Stop()
			}
			events[i] = h.submitRounds(ctx, eng, step, req, tr)
		}(i, step)
	}
	wg.Wait()
	// Blocks until a concurrent release_after has finished too.
	release()

	result := NewResult()
	for _, evs := range events {
		result.Trace = append(result.Trace, evs...)
	}
	result.Stats = eng.Stats()

	checkExpectations(s, result)
	checkStopped(result)
	return result, nil
}

// submitRounds submits req once per round. A round resolved with anything
// but DONE ends the sequence.
func (h *Harness) submitRounds(ctx context.Context, eng *fetch.Engine, step RequestStep, req *fetch.Request, tr *httpfetch.Transfer) []TraceEvent {
	var events []TraceEvent
	for round := 1; round <= step.rounds(); round++ {
		res, err := eng.Submit(ctx, req)
		if err != nil {
			h.logger.Debug("submit returned error", "request", step.Name, "round", round, "error", err)
		}

		ev := TraceEvent{
			Request: step.Name,
			Target:  step.target(),
			Round:   round,
			Result:  res.String(),
		}
		if res == fetch.ResultDone {
			ev.Status = tr.Response.StatusCode
			ev.Class = tr.Response.Class().String()
			ev.Bytes = len(tr.Response.Body)
			ev.Attempts = tr.Attempts
			ev.TransportError = tr.Err != nil
			ev.body = string(tr.Response.Body)
		}
		events = append(events, ev)

		if res != fetch.ResultDone {
			break
		}
	}
	return events
}
