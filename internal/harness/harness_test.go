package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/muxfetch/internal/testutil"
)

func TestBundledScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.False(t, result.Stats.Running)
			assert.Zero(t, result.Stats.Refs)
		})
	}
}

func TestRun_ReportsMismatches(t *testing.T) {
	srv := testutil.NewServer(t)
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "expectations that cannot hold"
requests:
  - name: ok
    path: /status/200
  - name: missing
    path: /status/404
expect:
  ok: { result: REMOVED }
  missing: { result: DONE, status: 200, class: success }
`))
	require.NoError(t, err)

	result, err := New(srv.URL, nil).Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "missing round 1: status")
	assert.Contains(t, result.Errors[1], "missing round 1: class")
	assert.Contains(t, result.Errors[2], "ok round 1: result")
	assert.Contains(t, result.Errors[2], "Expected: REMOVED")
	assert.Contains(t, result.Errors[2], "Actual: DONE")
}

func TestRun_InvalidRequestURL(t *testing.T) {
	s := &Scenario{
		Name:        "bad_url",
		Description: "d",
		Requests:    []RequestStep{{Name: "a", URL: "ftp://example.test/"}},
		Expect:      map[string]Expectation{"a": {Result: "DONE"}},
	}

	_, err := New("http://127.0.0.1:1", nil).Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `request "a"`)
}

func TestRun_RoundsShareRequest(t *testing.T) {
	srv := testutil.NewServer(t)
	s, err := ParseScenario([]byte(`
name: rounds
description: "three rounds on one request"
requests:
  - name: polled
    path: /status/200
    rounds: 3
expect:
  polled: { result: DONE, status: 200 }
`))
	require.NoError(t, err)

	result, err := New(srv.URL, nil).Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	events := result.Events("polled")
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Round)
	}
	assert.Equal(t, int64(3), srv.Hits("/status/200"))
}
