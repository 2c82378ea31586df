// Package metrics provides Prometheus instrumentation for the fetch engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics provides Prometheus metrics for the fetch engine.
//
// All metrics use the muxfetch_ prefix. Follows the nil receiver pattern:
// every method handles nil gracefully so an engine without metrics pays
// nothing.
type EngineMetrics struct {
	// ResultsTotal counts resolved submissions by result.
	ResultsTotal *prometheus.CounterVec

	// SubmitDuration tracks time from Submit to resolution by result.
	SubmitDuration *prometheus.HistogramVec

	// QueueDepth tracks elements currently linked in the request queue.
	QueueDepth prometheus.Gauge

	// ActiveTransfers tracks transfers owned by the multiplexer.
	ActiveTransfers prometheus.Gauge

	// AdmissionsTotal counts elements claimed by admission passes.
	AdmissionsTotal prometheus.Counter

	// PollCyclesTotal counts RUNNING poll cycles.
	PollCyclesTotal prometheus.Counter

	// WorkerStartsTotal counts worker starts by outcome (ok, failed).
	WorkerStartsTotal *prometheus.CounterVec
}

// NewEngineMetrics creates and registers engine metrics.
//
// Pass a nil registerer to create metrics without registration.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		ResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "muxfetch_results_total",
				Help: "Total resolved submissions by result",
			},
			[]string{"result"},
		),

		SubmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "muxfetch_submit_duration_seconds",
				Help:    "Time from submission to resolution in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "muxfetch_queue_depth",
				Help: "Current number of queued requests, claimed or not",
			},
		),

		ActiveTransfers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "muxfetch_active_transfers",
				Help: "Current number of running transfers",
			},
		),

		AdmissionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "muxfetch_admissions_total",
				Help: "Total requests claimed by the worker",
			},
		),

		PollCyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "muxfetch_poll_cycles_total",
				Help: "Total worker poll cycles",
			},
		),

		WorkerStartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "muxfetch_worker_starts_total",
				Help: "Total worker starts by outcome (ok, failed)",
			},
			[]string{"outcome"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ResultsTotal,
			m.SubmitDuration,
			m.QueueDepth,
			m.ActiveTransfers,
			m.AdmissionsTotal,
			m.PollCyclesTotal,
			m.WorkerStartsTotal,
		)
	}

	return m
}

// ObserveResult records one resolved submission.
//
// Safe to call on nil receiver.
func (m *EngineMetrics) ObserveResult(result string) {
	if m == nil {
		return
	}
	m.ResultsTotal.WithLabelValues(result).Inc()
}

// ObserveSubmit records the caller-visible latency of a submission.
//
// Safe to call on nil receiver.
func (m *EngineMetrics) ObserveSubmit(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SubmitDuration.WithLabelValues(result).Observe(d.Seconds())
}

// SetQueueDepth updates the queue depth gauge.
//
// Safe to call on nil receiver.
func (m *EngineMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetActiveTransfers updates the active transfer gauge.
//
// Safe to call on nil receiver.
func (m *EngineMetrics) SetActiveTransfers(n int) {
	if m == nil {
		return
	}
	m.ActiveTransfers.Set(float64(n))
}

// AddAdmissions counts n newly claimed requests.
//
// Safe to call on nil receiver.
func (m *EngineMetrics) AddAdmissions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AdmissionsTotal.Add(float64(n))
}

// IncPollCycles counts one poll cycle.
//
// Safe to call on nil receiver.
func (m *EngineMetrics) IncPollCycles() {
	if m == nil {
		return
	}
	m.PollCyclesTotal.Inc()
}

// RecordWorkerStart counts a worker start attempt.
//
// Safe to call on nil receiver.
func (m *EngineMetrics) RecordWorkerStart(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.WorkerStartsTotal.WithLabelValues(outcome).Inc()
}
