package httpfetch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/muxfetch/internal/testutil"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(DefaultClientConfig(), DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(c.CloseIdleConnections)
	return c
}

func perform(t *testing.T, c *Client, opts Options) *Transfer {
	t.Helper()
	tr, err := c.NewTransfer(opts)
	require.NoError(t, err)
	_ = tr.Perform(context.Background())
	return tr
}

func TestTransfer_CapturesResponse(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t)

	tr := perform(t, c, Options{URL: srv.URLFor("/status/404")})

	require.NoError(t, tr.Err)
	assert.Equal(t, 404, tr.Response.StatusCode)
	assert.Equal(t, StatusClientError, tr.Response.Class())
	assert.Equal(t, "status 404", string(tr.Response.Body))
	assert.Equal(t, "text/plain; charset=utf-8", tr.Response.ContentType)
	assert.Equal(t, 1, tr.Attempts)
}

func TestTransfer_SanitizesContentType(t *testing.T) {
	srv := testutil.NewServer(t)
	tr := perform(t, newTestClient(t), Options{URL: srv.URLFor("/content-type")})

	require.NoError(t, tr.Err)
	assert.Equal(t, "text/plain; charset=utf-8", tr.Response.ContentType)
}

func TestTransfer_RequestOptions(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t)

	tr := perform(t, c, Options{
		URL:       srv.URLFor("/echo"),
		UserAgent: "checker/2",
		Header:    map[string][]string{"X-Test": {"yes"}},
		Cookies:   []string{"session=abc; theme=dark"},
		Username:  "alice",
		Password:  "s3cret",
	})
	require.NoError(t, tr.Err)

	var echo struct {
		UserAgent      string            `json:"user_agent"`
		AcceptEncoding string            `json:"accept_encoding"`
		XTest          string            `json:"x_test"`
		Cookies        map[string]string `json:"cookies"`
		User           string            `json:"user"`
		Password       string            `json:"password"`
	}
	require.NoError(t, json.Unmarshal(tr.Response.Body, &echo))

	assert.Equal(t, "checker/2", echo.UserAgent)
	assert.Equal(t, "yes", echo.XTest)
	assert.Equal(t, map[string]string{"session": "abc", "theme": "dark"}, echo.Cookies)
	assert.Equal(t, "alice", echo.User)
	assert.Equal(t, "s3cret", echo.Password)
	// AcceptCompressed is false on a bare Options value.
	assert.Equal(t, "identity", echo.AcceptEncoding)
}

func TestTransfer_Redirects(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t)

	followed := perform(t, c, Options{URL: srv.URLFor("/redirect/3"), FollowRedirects: true, MaxRedirects: -1})
	require.NoError(t, followed.Err)
	assert.Equal(t, 200, followed.Response.StatusCode)
	assert.Equal(t, srv.URLFor("/status/200"), followed.Response.FinalURL)

	notFollowed := perform(t, c, Options{URL: srv.URLFor("/redirect/3")})
	require.NoError(t, notFollowed.Err)
	assert.Equal(t, 302, notFollowed.Response.StatusCode)
	assert.Equal(t, StatusRedirection, notFollowed.Response.Class())

	limited := perform(t, c, Options{URL: srv.URLFor("/redirect/3"), FollowRedirects: true, MaxRedirects: 1})
	assert.ErrorContains(t, limited.Err, "stopped after 1 redirects")
}

func TestTransfer_RetriesServerErrors(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t)

	tr := perform(t, c, Options{
		URL:           srv.URLFor("/flaky/2"),
		Retries:       3,
		RetryInterval: time.Millisecond,
	})

	require.NoError(t, tr.Err)
	assert.Equal(t, 200, tr.Response.StatusCode)
	assert.Equal(t, 3, tr.Attempts)
	assert.Equal(t, "recovered", string(tr.Response.Body))
}

func TestTransfer_RetriesExhaustedKeepsLastResponse(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t)

	tr := perform(t, c, Options{
		URL:           srv.URLFor("/flaky/5"),
		Retries:       1,
		RetryInterval: time.Millisecond,
	})

	assert.NoError(t, tr.Err)
	assert.Equal(t, 503, tr.Response.StatusCode)
	assert.Equal(t, 2, tr.Attempts)
}

func TestTransfer_Timeout(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t)

	tr, err := c.NewTransfer(Options{URL: srv.URLFor("/slow/5000"), Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	dl, ok := tr.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), dl, 40*time.Millisecond)

	start := time.Now()
	err = tr.Perform(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The deadline is cleared for the next submission.
	assert.True(t, tr.deadline.IsZero())
}

func TestTransfer_ConnectionRefused(t *testing.T) {
	c := newTestClient(t)
	tr := perform(t, c, Options{URL: "http://127.0.0.1:1/unreachable"})

	assert.Error(t, tr.Err)
	assert.Equal(t, 0, tr.Response.StatusCode)
}

func TestClient_NewTransferValidatesURL(t *testing.T) {
	c := newTestClient(t)

	for _, bad := range []string{"ftp://example.com/x", "not a url\x00", "http://"} {
		_, err := c.NewTransfer(Options{URL: bad})
		assert.Error(t, err, bad)
	}
}

func TestClient_DefaultsApplied(t *testing.T) {
	defaults := DefaultOptions()
	defaults.Header = map[string][]string{"X-Default": {"1"}}
	c, err := NewClient(DefaultClientConfig(), defaults)
	require.NoError(t, err)

	tr, err := c.NewTransfer(Options{URL: "http://example.com/", Header: map[string][]string{"X-Own": {"2"}}})
	require.NoError(t, err)

	opts := tr.Options()
	assert.Equal(t, "GET", opts.Method)
	assert.Equal(t, DefaultUserAgent, opts.UserAgent)
	assert.Equal(t, "1", opts.Header.Get("X-Default"))
	assert.Equal(t, "2", opts.Header.Get("X-Own"))
}

func TestNewClient_ConfigErrors(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err := NewClient(cfg, DefaultOptions())
	assert.ErrorContains(t, err, "read CA file")

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("not a certificate"), 0o600))
	cfg.CAFile = empty
	_, err = NewClient(cfg, DefaultOptions())
	assert.ErrorContains(t, err, "contains no certificates")

	cfg = DefaultClientConfig()
	cfg.HTTPVersion = "3"
	_, err = NewClient(cfg, DefaultOptions())
	assert.ErrorContains(t, err, "unsupported HTTP version")

	cfg = DefaultClientConfig()
	cfg.HTTPVersion = HTTPVersion11
	cfg.Proxy = "http://proxy.internal:3128"
	cfg.ProxyUser = "u"
	_, err = NewClient(cfg, DefaultOptions())
	assert.NoError(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want StatusClass
	}{
		{100, StatusInformational},
		{204, StatusSuccess},
		{301, StatusRedirection},
		{418, StatusClientError},
		{503, StatusServerError},
		{0, StatusUnknown},
		{700, StatusUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.code), "code %d", tt.code)
	}
	assert.Equal(t, "client-error", StatusClientError.String())
}

func TestSanitizeContentType(t *testing.T) {
	assert.Equal(t, "application/json", SanitizeContentType(" application/json\r\n"))
	assert.Equal(t, "text/html; charset=utf-8", SanitizeContentType("text/html;\x00 charset=utf-8"))
	assert.Equal(t, "", SanitizeContentType("\x01\x02"))
}
