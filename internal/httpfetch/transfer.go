package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Transfer is one HTTP request driven by the fetch engine.
//
// Perform is called on an engine goroutine; the response fields must only be
// read after the engine has resolved the submission.
type Transfer struct {
	client   *Client
	opts     Options
	deadline time.Time

	// Response holds the outcome of the last attempt.
	Response Response

	// Attempts counts requests sent by the last Perform.
	Attempts int

	// Err is the transport failure of the last attempt, nil if a response
	// was received (whatever its status).
	Err error
}

// Response is the captured result of a transfer.
type Response struct {
	StatusCode  int
	Status      string
	ContentType string
	Header      http.Header
	Body        []byte
	FinalURL    string
	Elapsed     time.Duration
}

// Class returns the status class of the response.
func (r Response) Class() StatusClass {
	return Classify(r.StatusCode)
}

// Options returns the effective request options.
func (t *Transfer) Options() Options {
	return t.opts
}

// Deadline reports the transfer's overall deadline. The first call fixes it
// relative to now; the engine calls it once when the transfer starts.
func (t *Transfer) Deadline() (time.Time, bool) {
	if t.opts.Timeout <= 0 {
		return time.Time{}, false
	}
	if t.deadline.IsZero() {
		t.deadline = time.Now().Add(t.opts.Timeout)
	}
	return t.deadline, true
}

// statusError marks a retryable server response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server responded %d", e.code)
}

// Perform sends the request, retrying transport failures and 5xx responses
// with exponential backoff.
func (t *Transfer) Perform(ctx context.Context) error {
	t.Response = Response{}
	t.Attempts = 0
	t.Err = nil

	if dl, ok := t.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, dl)
		defer cancel()
	}
	// A resubmitted transfer gets a fresh deadline.
	defer func() { t.deadline = time.Time{} }()

	hc := t.client.httpClient(t.opts)
	start := time.Now()

	op := func() error {
		t.Attempts++
		req, err := t.newRequest(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		body, err := readBody(resp.Body, t.opts.MaxBodyBytes)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		t.Response = Response{
			StatusCode:  resp.StatusCode,
			Status:      resp.Status,
			ContentType: SanitizeContentType(resp.Header.Get("Content-Type")),
			Header:      resp.Header,
			Body:        body,
			FinalURL:    resp.Request.URL.String(),
		}
		if resp.StatusCode >= 500 {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.opts.RetryInterval
	eb.MaxElapsedTime = 0
	retries := t.opts.Retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	err := backoff.Retry(op, policy)
	t.Response.Elapsed = time.Since(start)

	var se *statusError
	if errors.As(err, &se) {
		// A 5xx that survived every retry is still a delivered response.
		err = nil
	}
	t.Err = err
	return err
}

func (t *Transfer) newRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, t.opts.Method, t.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if t.opts.UserAgent != "" {
		req.Header.Set("User-Agent", t.opts.UserAgent)
	}
	if !t.opts.AcceptCompressed {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if t.opts.Username != "" {
		req.SetBasicAuth(t.opts.Username, t.opts.Password)
	}
	for _, line := range t.opts.Cookies {
		cookies, err := http.ParseCookie(line)
		if err != nil {
			return nil, fmt.Errorf("parse cookie %q: %w", line, err)
		}
		for _, c := range cookies {
			req.AddCookie(c)
		}
	}
	return req, nil
}

func readBody(r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit)
	}
	return io.ReadAll(r)
}
