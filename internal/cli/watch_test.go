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

func TestWatch_RoundsResubmitSameRequest(t *testing.T) {
	srv := testutil.NewServer(t)
	dbPath := filepath.Join(t.TempDir(), "watch.db")

	res := runCLI(t, testRootOptions(), "watch", "--format", "json",
		"--rounds", "3", "--interval", "10ms", "--db", dbPath,
		"--metrics-addr", "127.0.0.1:0",
		srv.URLFor("/status/200"),
		srv.URLFor("/status/503"),
	)
	require.NoError(t, res.err, "stderr: %s", res.stderr)

	resps := decodeFetches(t, res.stdout)
	require.Len(t, resps, 6, "one line per URL per round")

	ids := map[string]map[string]bool{}
	lastSeq := map[string]int64{}
	for _, r := range resps {
		require.Len(t, r.Data.Fetches, 1)
		f := r.Data.Fetches[0]
		assert.Equal(t, "DONE", f.Result)
		if ids[f.URL] == nil {
			ids[f.URL] = map[string]bool{}
		}
		ids[f.URL][f.RequestID] = true
		assert.Greater(t, f.Seq, lastSeq[f.URL], "seq grows across rounds")
		lastSeq[f.URL] = f.Seq
	}
	require.Len(t, ids, 2)
	for url, set := range ids {
		assert.Len(t, set, 1, "%s keeps one request ID", url)
	}

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	for url, set := range ids {
		for id := range set {
			cycles, err := st.ReadRequest(context.Background(), id)
			require.NoError(t, err)
			assert.Len(t, cycles, 3, "%s journals every round", url)
		}
	}
}

func TestWatch_FlagValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"zero interval", []string{"watch", "--interval", "0s", "http://example.test/"}, "--interval must be positive"},
		{"negative rounds", []string{"watch", "--rounds", "-2", "http://example.test/"}, "--rounds must not be negative"},
		{"no urls", []string{"watch"}, "requires at least 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, testRootOptions(), tt.args...)
			require.Error(t, res.err)
			assert.Contains(t, res.err.Error(), tt.want)
		})
	}
}

func TestWatch_InitFailure(t *testing.T) {
	opts := testRootOptions()
	opts.Config.Transport.HTTPVersion = "3"

	res := runCLI(t, opts, "watch", "--rounds", "1", "http://example.test/a", "http://example.test/b")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "Error [INIT_FAILED]")
}
