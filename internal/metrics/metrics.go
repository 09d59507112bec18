// Package metrics exposes Prometheus instrumentation for the scheduler.
//
// Each Metrics value owns its registry so independent schedulers (tests,
// embedded instances) never collide on global collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	labelResult = "result"
	labelStatus = "status"
	labelKind   = "step_kind"
)

// Submission results.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
)

// Trigger sweep results.
const (
	TriggerFired   = "fired"
	TriggerFailed  = "failed"
	TriggerSkipped = "skipped"
)

// Metrics groups the scheduler collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	submissions      *prometheus.CounterVec
	cancellations    *prometheus.CounterVec
	completions      *prometheus.CounterVec
	stepFailures     *prometheus.CounterVec
	triggers         *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	running          prometheus.Gauge
	executionLatency prometheus.Histogram
	sweepDuration    prometheus.Histogram
}

// New builds a Metrics with its own registry, including Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_submissions_total",
			Help: "Execution submissions by result",
		}, []string{labelResult}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_cancellations_total",
			Help: "Cancellation requests by the status the execution was in",
		}, []string{labelStatus}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_executions_completed_total",
			Help: "Executions that reached a terminal status",
		}, []string{labelStatus}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_step_failures_total",
			Help: "Steps reported as failed by the backend",
		}, []string{labelKind}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_trigger_evaluations_total",
			Help: "Scheduled trigger evaluations by result",
		}, []string{labelResult}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "curator_queue_depth",
			Help: "Executions waiting in the priority queue",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "curator_executions_running",
			Help: "Executions currently dispatched to the backend",
		}),
		executionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "curator_execution_duration_seconds",
			Help:    "Wall time from dispatch to terminal status",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "curator_sweep_duration_seconds",
			Help:    "Time spent evaluating due triggers",
			Buckets: []float64{0.01, 0.1, 1, 5, 10, 60},
		}),
	}
	m.registry.MustRegister(
		m.submissions,
		m.cancellations,
		m.completions,
		m.stepFailures,
		m.triggers,
		m.queueDepth,
		m.running,
		m.executionLatency,
		m.sweepDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Submission(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) Cancellation(status string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(status).Inc()
}

// Completed records a terminal execution and how long it ran.
func (m *Metrics) Completed(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(status).Inc()
	if elapsed > 0 {
		m.executionLatency.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) StepFailed(kind string) {
	if m == nil {
		return
	}
	m.stepFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Trigger(result string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) RunningDelta(delta int) {
	if m == nil {
		return
	}
	m.running.Add(float64(delta))
}

func (m *Metrics) ObserveSweep(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(elapsed.Seconds())
}
