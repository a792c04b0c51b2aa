// Package metrics exposes Prometheus instrumentation for the query
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the pipeline's counters so they can be registered on a
// private registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	QueriesTotal    *prometheus.CounterVec
	QueryDuration   prometheus.Histogram
	UpstreamErrors  *prometheus.CounterVec
	UpstreamCalls   *prometheus.CounterVec
	UpstreamRetries prometheus.Counter
	SubprocessRuns  *prometheus.CounterVec
}

// New creates and registers the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nlagent_queries_total",
			Help: "Processed queries by operation and outcome.",
		}, []string{"operation", "outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nlagent_query_duration_seconds",
			Help:    "End-to-end query processing time.",
			Buckets: prometheus.DefBuckets,
		}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nlagent_upstream_errors_total",
			Help: "Failed dispatches by error kind.",
		}, []string{"kind"}),
		UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nlagent_upstream_calls_total",
			Help: "Logical upstream API calls by outcome kind.",
		}, []string{"kind"}),
		UpstreamRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nlagent_upstream_retries_total",
			Help: "Extra upstream attempts spent on transient failures.",
		}),
		SubprocessRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nlagent_subprocess_runs_total",
			Help: "Local CLI executions by service and outcome.",
		}, []string{"service", "outcome"}),
	}
	reg.MustRegister(m.QueriesTotal, m.QueryDuration, m.UpstreamErrors,
		m.UpstreamCalls, m.UpstreamRetries, m.SubprocessRuns)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpstreamCall records one logical gateway call, plus the retries it
// burned. A nil receiver is a no-op so unmetered callers (the one-shot CLI)
// can share the dispatcher.
func (m *Metrics) ObserveUpstreamCall(kind string, retries int) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	m.UpstreamCalls.WithLabelValues(kind).Inc()
	if retries > 0 {
		m.UpstreamRetries.Add(float64(retries))
	}
}

// ObserveSubprocess records one local CLI execution. Nil-safe like
// ObserveUpstreamCall.
func (m *Metrics) ObserveSubprocess(service string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.SubprocessRuns.WithLabelValues(service, outcome).Inc()
}

// ObserveQuery records one completed query.
func (m *Metrics) ObserveQuery(operation string, success bool, errKind string, seconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
		if errKind != "" {
			m.UpstreamErrors.WithLabelValues(errKind).Inc()
		}
	}
	m.QueriesTotal.WithLabelValues(operation, outcome).Inc()
	m.QueryDuration.Observe(seconds)
}
