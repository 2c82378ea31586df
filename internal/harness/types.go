package harness

import "github.com/roach88/muxfetch/internal/fetch"

// TraceEvent records one resolved admission cycle.
type TraceEvent struct {
	Request string `json:"request"`
	Target  string `json:"target"` // scenario path or URL, never the live origin
	Round   int    `json:"round"`
	Result  string `json:"result"`

	// Set only when Result is DONE.
	Status         int    `json:"status,omitempty"`
	Class          string `json:"class,omitempty"`
	Bytes          int    `json:"bytes,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`
	TransportError bool   `json:"transport_error,omitempty"`

	body string
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation matched.
	Pass bool `json:"pass"`

	// Trace lists cycles in scenario order: by request, then by round.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation mismatches. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Stats is the engine snapshot taken after the final release.
	Stats fetch.Stats `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns the trace events of one request.
func (r *Result) Events(request string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Request == request {
			out = append(out, e)
		}
	}
	return out
}

// canonical converts the event to canonical-JSON-ready form.
func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"request": e.Request,
		"target":  e.Target,
		"round":   e.Round,
		"result":  e.Result,
	}
	if e.Result == fetch.ResultDone.String() {
		m["status"] = e.Status
		m["class"] = e.Class
		m["bytes"] = e.Bytes
		m["attempts"] = e.Attempts
		m["transport_error"] = e.TransportError
	}
	return m
}
