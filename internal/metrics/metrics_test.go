package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineMetrics_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.ObserveResult("DONE")
	m.ObserveSubmit("DONE", 20*time.Millisecond)
	m.RecordWorkerStart(true)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"muxfetch_results_total",
		"muxfetch_submit_duration_seconds",
		"muxfetch_queue_depth",
		"muxfetch_active_transfers",
		"muxfetch_admissions_total",
		"muxfetch_poll_cycles_total",
		"muxfetch_worker_starts_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestEngineMetrics_CountsByLabel(t *testing.T) {
	m := NewEngineMetrics(prometheus.NewRegistry())

	m.ObserveResult("DONE")
	m.ObserveResult("DONE")
	m.ObserveResult("REMOVED")
	m.AddAdmissions(3)
	m.AddAdmissions(0)
	m.IncPollCycles()
	m.RecordWorkerStart(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResultsTotal.WithLabelValues("DONE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultsTotal.WithLabelValues("REMOVED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AdmissionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollCyclesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerStartsTotal.WithLabelValues("failed")))
}

func TestEngineMetrics_Gauges(t *testing.T) {
	m := NewEngineMetrics(nil)

	m.SetQueueDepth(4)
	m.SetActiveTransfers(2)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveTransfers))
}

func TestEngineMetrics_NilReceiver(t *testing.T) {
	var m *EngineMetrics

	assert.NotPanics(t, func() {
		m.ObserveResult("DONE")
		m.ObserveSubmit("DONE", time.Second)
		m.SetQueueDepth(1)
		m.SetActiveTransfers(1)
		m.AddAdmissions(1)
		m.IncPollCycles()
		m.RecordWorkerStart(true)
	})
}
