package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError describes one expectation mismatch.
// It includes the request's cycles to help debug the failure.
type AssertionError struct {
	Request  string
	Round    int
	Field    string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s round %d: %s\n", e.Request, e.Round, e.Field)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nCycles:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s status=%d attempts=%d\n", ev.Round, ev.Result, ev.Status, ev.Attempts)
		}
	}
	return buf.String()
}

// checkExpectations compares every cycle of every expected request.
func checkExpectations(s *Scenario, r *Result) {
	names := make([]string, 0, len(s.Expect))
	for name := range s.Expect {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		events := r.Events(name)
		if len(events) == 0 {
			r.AddError(fmt.Sprintf("request %s: no cycles recorded", name))
			continue
		}
		for _, ev := range events {
			for _, err := range matchExpectation(s.Expect[name], ev) {
				err.Trace = events
				r.AddError(err.Error())
			}
		}
	}
}

// matchExpectation returns one error per mismatching field.
func matchExpectation(want Expectation, ev TraceEvent) []*AssertionError {
	var errs []*AssertionError
	mismatch := func(field string, expected, actual any) {
		errs = append(errs, &AssertionError{
			Request:  ev.Request,
			Round:    ev.Round,
			Field:    field,
			Expected: fmt.Sprint(expected),
			Actual:   fmt.Sprint(actual),
		})
	}

	if ev.Result != want.Result {
		mismatch("result", want.Result, ev.Result)
		return errs
	}
	if want.Status != 0 && ev.Status != want.Status {
		mismatch("status", want.Status, ev.Status)
	}
	if want.Class != "" && ev.Class != want.Class {
		mismatch("class", want.Class, ev.Class)
	}
	if want.Attempts != 0 && ev.Attempts != want.Attempts {
		mismatch("attempts", want.Attempts, ev.Attempts)
	}
	if want.BodyContains != "" && !strings.Contains(ev.body, want.BodyContains) {
		mismatch("body", fmt.Sprintf("contains %q", want.BodyContains), fmt.Sprintf("%q", ev.body))
	}
	if want.TransportError != ev.TransportError {
		mismatch("transport_error", want.TransportError, ev.TransportError)
	}
	return errs
}

// checkStopped verifies the final release stopped the worker.
func checkStopped(r *Result) {
	if r.Stats.Running || r.Stats.Refs != 0 {
		r.AddError(fmt.Sprintf("engine still running after release: refs=%d state=%s", r.Stats.Refs, r.Stats.State))
	}
}
