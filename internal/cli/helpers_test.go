package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/muxfetch/internal/config"
	"github.com/roach88/muxfetch/internal/fetch"
	"github.com/roach88/muxfetch/internal/testutil"
)

// cliResult captures one command execution.
type cliResult struct {
	stdout string
	stderr string
	err    error
}

// testRootOptions returns options with deterministic IDs and timestamps.
func testRootOptions() *RootOptions {
	cfg := config.Default()
	cfg.Engine.MaxPollInterval = "50ms"
	return &RootOptions{
		Config:      cfg,
		IDGenerator: fetch.NewSequentialGenerator("req"),
		Now:         testutil.NewStepClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), time.Second).Now,
	}
}

// runCLI executes the command tree with args and a bounded context.
func runCLI(t *testing.T, opts *RootOptions, args ...string) cliResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newRootCommand(opts)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// fetchResponse is a decoded JSON fetch payload.
type fetchResponse struct {
	Status string      `json:"status"`
	Data   FetchReport `json:"data"`
	Error  *CLIError   `json:"error"`
}

// decodeFetches decodes every JSON line in out.
func decodeFetches(t *testing.T, out string) []fetchResponse {
	t.Helper()

	var resps []fetchResponse
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r fetchResponse
		require.NoError(t, json.Unmarshal([]byte(line), &r), "line: %s", line)
		resps = append(resps, r)
	}
	require.NoError(t, sc.Err())
	return resps
}

func jsonUnmarshalString(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
