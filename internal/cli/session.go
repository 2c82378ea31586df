package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/muxfetch/internal/config"
	"github.com/roach88/muxfetch/internal/fetch"
	"github.com/roach88/muxfetch/internal/httpfetch"
	"github.com/roach88/muxfetch/internal/store"
)

// session bundles one command's engine, HTTP client and optional journal.
//
// The client is built by the engine's startup hook, so a bad CA file or
// proxy URL surfaces as an INIT_FAILED error from Acquire.
type session struct {
	opts    *RootOptions
	cfg     *config.Config
	engine  *fetch.Engine
	client  atomic.Pointer[httpfetch.Client]
	journal *store.Store
}

func newSession(opts *RootOptions, journalPath string, extra ...fetch.EngineOption) (*session, error) {
	cfg, err := opts.effectiveConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	s := &session{opts: opts, cfg: cfg}

	if journalPath == "" {
		journalPath = cfg.Engine.Journal
	}
	if journalPath != "" {
		slog.Debug("opening journal", "path", journalPath)
		st, err := store.Open(journalPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		s.journal = st
	}

	engOpts := []fetch.EngineOption{
		fetch.WithLogger(slog.Default()),
		fetch.WithMaxPollInterval(cfg.PollInterval()),
		fetch.WithStartup(s.startClient),
	}
	if opts.IDGenerator != nil {
		engOpts = append(engOpts, fetch.WithIDGenerator(opts.IDGenerator))
	}
	s.engine = fetch.New(append(engOpts, extra...)...)
	return s, nil
}

func (s *session) startClient(ctx context.Context) error {
	c, err := httpfetch.NewClient(s.cfg.ClientConfig(), s.cfg.RequestOptions())
	if err != nil {
		return err
	}
	s.client.Store(c)
	return nil
}

// Close closes the journal.
func (s *session) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

// newTransfer builds a transfer for url from the configured request
// defaults, then applies adjust.
func (s *session) newTransfer(url string, adjust func(*httpfetch.Options)) (*httpfetch.Transfer, error) {
	c := s.client.Load()
	if c == nil {
		return nil, fmt.Errorf("engine not started")
	}
	o := s.cfg.RequestOptions()
	o.URL = url
	if adjust != nil {
		adjust(&o)
	}
	return c.NewTransfer(o)
}

// run submits one transfer, waits for it, and journals the cycle.
func (s *session) run(ctx context.Context, req *fetch.Request, tr *httpfetch.Transfer, keepBody bool) FetchOutcome {
	start := time.Now()
	res, err := s.engine.Submit(ctx, req)
	out := newOutcome(req, tr, res, time.Since(start), keepBody)
	if err != nil && out.Error == "" {
		out.Error = err.Error()
	}

	slog.Debug("fetch resolved",
		"request_id", out.RequestID,
		"url", out.URL,
		"result", out.Result,
		"status", out.Status)

	if s.journal != nil {
		// Journal even when ctx is done; the cycle still happened.
		if jerr := s.journal.WriteFetch(context.Background(), out.record(tr, s.opts.now())); jerr != nil {
			slog.Error("journal write failed", "request_id", out.RequestID, "error", jerr)
		}
	}
	return out
}

// FetchOutcome is the reported result of one admission cycle.
type FetchOutcome struct {
	RequestID   string `json:"request_id"`
	Seq         int64  `json:"seq"`
	URL         string `json:"url"`
	Result      string `json:"result"`
	Status      int    `json:"status"`
	Class       string `json:"class"`
	ContentType string `json:"content_type,omitempty"`
	Bytes       int    `json:"bytes"`
	Attempts    int    `json:"attempts"`
	DurationMS  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
	Body        string `json:"body,omitempty"`
}

func newOutcome(req *fetch.Request, tr *httpfetch.Transfer, res fetch.Result, elapsed time.Duration, keepBody bool) FetchOutcome {
	out := FetchOutcome{
		RequestID:  req.ID,
		Seq:        req.Seq(),
		URL:        tr.Options().URL,
		Result:     res.String(),
		DurationMS: elapsed.Milliseconds(),
	}
	// Handle fields are only meaningful once the transfer actually ran.
	if res == fetch.ResultDone {
		resp := tr.Response
		out.Status = resp.StatusCode
		out.Class = resp.Class().String()
		out.ContentType = resp.ContentType
		out.Bytes = len(resp.Body)
		out.Attempts = tr.Attempts
		if tr.Err != nil {
			out.Error = tr.Err.Error()
		}
		if keepBody {
			out.Body = string(resp.Body)
		}
	}
	return out
}

// OK reports whether the transfer completed without a transport error.
func (o FetchOutcome) OK() bool {
	return o.Result == fetch.ResultDone.String() && o.Error == ""
}

func (o FetchOutcome) record(tr *httpfetch.Transfer, at time.Time) store.Fetch {
	return store.Fetch{
		RequestID:   o.RequestID,
		Seq:         o.Seq,
		URL:         o.URL,
		Method:      tr.Options().Method,
		Result:      o.Result,
		Status:      o.Status,
		ContentType: o.ContentType,
		Bytes:       int64(o.Bytes),
		Attempts:    o.Attempts,
		Error:       o.Error,
		Duration:    time.Duration(o.DurationMS) * time.Millisecond,
		RecordedAt:  at,
	}
}

// renderOutcome writes one human-readable line.
func renderOutcome(w io.Writer, o FetchOutcome) error {
	status := "---"
	if o.Status > 0 {
		status = fmt.Sprintf("%d", o.Status)
	}
	line := fmt.Sprintf("%-11s %s %s", o.Result, status, o.URL)
	if o.Result == fetch.ResultDone.String() {
		line += fmt.Sprintf(" (%d bytes", o.Bytes)
		if o.ContentType != "" {
			line += ", " + o.ContentType
		}
		line += fmt.Sprintf(", %dms)", o.DurationMS)
	}
	if o.Error != "" {
		line += " error: " + o.Error
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
