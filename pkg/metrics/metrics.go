// Package metrics exposes Prometheus instrumentation for the orchestrator:
// request outcomes by selection method, per-agent call counters and
// latencies, circuit-breaker states, policy denials, and audit queue drops.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maestroproj/maestro/pkg/execution"
	"github.com/maestroproj/maestro/pkg/models"
)

// Metrics holds the registered collectors. A single instance lives for the
// process; all methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	requests           *prometheus.CounterVec
	requestDuration    prometheus.Histogram
	agentCalls         *prometheus.CounterVec
	agentDuration      *prometheus.HistogramVec
	circuitState       *prometheus.GaugeVec
	policyDenials      *prometheus.CounterVec
	validationFailures prometheus.Counter
}

// New registers the orchestrator collectors plus the standard Go and
// process collectors. auditDropped is sampled on scrape; pass nil to omit
// the gauge.
func New(auditDropped func() float64) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maestro_requests_total",
			Help: "Requests processed, by outcome and selection method.",
		}, []string{"outcome", "method"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "maestro_request_duration_seconds",
			Help:    "End-to-end request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		agentCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maestro_agent_calls_total",
			Help: "Agent invocations, by agent and result.",
		}, []string{"agent", "result"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maestro_agent_duration_seconds",
			Help:    "Per-agent invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "maestro_circuit_state",
			Help: "Circuit breaker state per agent: 0 closed, 1 half-open, 2 open.",
		}, []string{"agent"}),
		policyDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maestro_policy_denials_total",
			Help: "Requests denied by a policy evaluator.",
		}, []string{"evaluator"}),
		validationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maestro_validation_failures_total",
			Help: "Responses that failed three-phase validation after retries.",
		}),
	}

	registry.MustRegister(
		m.requests, m.requestDuration,
		m.agentCalls, m.agentDuration,
		m.circuitState, m.policyDenials, m.validationFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if auditDropped != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "maestro_audit_dropped_total",
			Help: "Query log records dropped because the audit queue was full.",
		}, auditDropped))
	}
	return m
}

// Handler serves the Prometheus text exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(outcome string, method models.SelectionMethod, elapsed time.Duration) {
	m.requests.WithLabelValues(outcome, string(method)).Inc()
	m.requestDuration.Observe(elapsed.Seconds())
}

// ObserveAgentCall records one agent invocation attempt.
func (m *Metrics) ObserveAgentCall(agent string, success bool, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.agentCalls.WithLabelValues(agent, result).Inc()
	m.agentDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
}

// SetCircuitState publishes an agent's breaker state.
func (m *Metrics) SetCircuitState(agent string, state execution.CircuitState) {
	var v float64
	switch state {
	case execution.CircuitHalfOpen:
		v = 1
	case execution.CircuitOpen:
		v = 2
	}
	m.circuitState.WithLabelValues(agent).Set(v)
}

// PolicyDenial counts a denial attributed to an evaluator.
func (m *Metrics) PolicyDenial(evaluator string) {
	m.policyDenials.WithLabelValues(evaluator).Inc()
}

// ValidationFailure counts a response that stayed invalid after retries.
func (m *Metrics) ValidationFailure() {
	m.validationFailures.Inc()
}
