package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/muxfetch/internal/store"
	"github.com/roach88/muxfetch/internal/testutil"
)

func TestFetch_MixedStatuses(t *testing.T) {
	srv := testutil.NewServer(t)

	res := runCLI(t, testRootOptions(), "fetch", "--format", "json",
		srv.URLFor("/status/200"),
		srv.URLFor("/status/404"),
		srv.URLFor("/status/500"),
	)
	require.NoError(t, res.err, "stderr: %s", res.stderr)

	resps := decodeFetches(t, res.stdout)
	require.Len(t, resps, 1)
	assert.Equal(t, "ok", resps[0].Status)

	fetches := resps[0].Data.Fetches
	require.Len(t, fetches, 3)

	wantStatus := []int{200, 404, 500}
	wantClass := []string{"success", "client-error", "server-error"}
	for i, f := range fetches {
		assert.Equal(t, "DONE", f.Result, "fetch %d", i)
		assert.Equal(t, wantStatus[i], f.Status, "fetch %d", i)
		assert.Equal(t, wantClass[i], f.Class, "fetch %d", i)
		assert.Empty(t, f.Error, "fetch %d", i)
		assert.NotEmpty(t, f.RequestID, "fetch %d", i)
	}
	assert.Equal(t, "text/plain; charset=utf-8", fetches[0].ContentType)
	assert.Empty(t, fetches[0].Body, "bodies are omitted without --body")
}

func TestFetch_TextOutputWithBody(t *testing.T) {
	srv := testutil.NewServer(t)

	res := runCLI(t, testRootOptions(), "fetch", "--body", srv.URLFor("/status/200"))
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "DONE        200 "+srv.URLFor("/status/200"))
	assert.Contains(t, res.stdout, "(10 bytes, text/plain; charset=utf-8,")
	assert.Contains(t, res.stdout, "\nstatus 200\n")
}

func TestFetch_CancelAfterRemovesStalledTransfer(t *testing.T) {
	srv := testutil.NewServer(t)

	res := runCLI(t, testRootOptions(), "fetch", "--format", "json",
		"--cancel-after", "200ms",
		srv.URLFor("/status/204"),
		srv.URLFor("/stall"),
	)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "1 of 2 fetches did not complete")

	resps := decodeFetches(t, res.stdout)
	require.Len(t, resps, 1)
	fetches := resps[0].Data.Fetches
	require.Len(t, fetches, 2)

	assert.Equal(t, "DONE", fetches[0].Result)
	assert.Equal(t, 204, fetches[0].Status)
	assert.Equal(t, "REMOVED", fetches[1].Result)
	assert.Zero(t, fetches[1].Status)
}

func TestFetch_CancelAfterReachesEverySubmitter(t *testing.T) {
	srv := testutil.NewServer(t)

	args := []string{"fetch", "--format", "json", "--cancel-after", "1ms"}
	const n = 16
	for i := 0; i < n; i++ {
		args = append(args, srv.URLFor("/stall"))
	}
	res := runCLI(t, testRootOptions(), args...)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "16 of 16 fetches did not complete")

	resps := decodeFetches(t, res.stdout)
	require.Len(t, resps, 1)
	require.Len(t, resps[0].Data.Fetches, n)
	for i, f := range resps[0].Data.Fetches {
		assert.Equal(t, "REMOVED", f.Result, "fetch %d", i)
	}
}

func TestFetch_InvalidURLDoesNotBlockOthers(t *testing.T) {
	srv := testutil.NewServer(t)

	res := runCLI(t, testRootOptions(), "fetch", "--format", "json",
		"ftp://example.test/file",
		srv.URLFor("/status/200"),
	)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))

	fetches := decodeFetches(t, res.stdout)[0].Data.Fetches
	require.Len(t, fetches, 2)
	assert.Equal(t, "BAD_QUEUE", fetches[0].Result)
	assert.Contains(t, fetches[0].Error, "unsupported URL scheme")
	assert.Equal(t, "DONE", fetches[1].Result)
}

func TestFetch_TransportErrorFails(t *testing.T) {
	srv := testutil.NewServer(t)
	url := srv.URLFor("/status/200")
	srv.Close()

	res := runCLI(t, testRootOptions(), "fetch", "--format", "json", url)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))

	f := decodeFetches(t, res.stdout)[0].Data.Fetches[0]
	assert.Equal(t, "DONE", f.Result, "a refused connection is still a completed transfer")
	assert.NotEmpty(t, f.Error)
	assert.False(t, f.OK())
}

func TestFetch_RequestFlags(t *testing.T) {
	srv := testutil.NewServer(t)

	res := runCLI(t, testRootOptions(), "fetch", "--format", "json", "--body",
		"-H", "X-Test: from-flag",
		"--retries", "3",
		srv.URLFor("/echo"),
		srv.URLFor("/flaky/2"),
	)
	require.NoError(t, res.err, "stderr: %s", res.stderr)

	fetches := decodeFetches(t, res.stdout)[0].Data.Fetches
	require.Len(t, fetches, 2)
	assert.Contains(t, fetches[0].Body, `"x_test":"from-flag"`)
	assert.Contains(t, fetches[0].Body, `"user_agent":"muxfetch/1.0"`)

	assert.Equal(t, 200, fetches[1].Status)
	assert.Equal(t, 3, fetches[1].Attempts)
	assert.Equal(t, "recovered", fetches[1].Body)
}

func TestFetch_InvalidHeader(t *testing.T) {
	res := runCLI(t, testRootOptions(), "fetch", "-H", "no-colon", "http://example.test/")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "invalid header")
}

func TestFetch_InitFailure(t *testing.T) {
	opts := testRootOptions()
	opts.Config.Transport.CAFile = filepath.Join(t.TempDir(), "missing.pem")

	res := runCLI(t, opts, "fetch", "--format", "json", "http://example.test/")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))

	resps := decodeFetches(t, res.stdout)
	require.Len(t, resps, 1)
	assert.Equal(t, "error", resps[0].Status)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, "INIT_FAILED", resps[0].Error.Code)
}

func TestFetch_Journal(t *testing.T) {
	srv := testutil.NewServer(t)
	dbPath := filepath.Join(t.TempDir(), "fetches.db")

	res := runCLI(t, testRootOptions(), "fetch", "--db", dbPath,
		srv.URLFor("/status/200"),
		srv.URLFor("/status/404"),
	)
	require.NoError(t, res.err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	rows, err := st.ListFetches(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byURL := map[string]store.Fetch{}
	for _, r := range rows {
		byURL[r.URL] = r
	}
	ok := byURL[srv.URLFor("/status/200")]
	assert.Equal(t, "DONE", ok.Result)
	assert.Equal(t, 200, ok.Status)
	assert.Equal(t, "GET", ok.Method)
	assert.Equal(t, int64(10), ok.Bytes)
	assert.Equal(t, 1, ok.Attempts)

	missing := byURL[srv.URLFor("/status/404")]
	assert.Equal(t, 404, missing.Status)
	assert.NotEqual(t, ok.RequestID, missing.RequestID)
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"X-One: 1", "X-One:2", "  Accept : text/plain  "})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, h.Values("X-One"))
	assert.Equal(t, "text/plain", h.Get("Accept"))

	_, err = parseHeaders([]string{": value"})
	assert.Error(t, err)
}
