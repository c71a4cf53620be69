package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics tracks execution health.
type EngineMetrics struct {
	executions      prometheus.CounterVec
	iterations      prometheus.Histogram
	toolCalls       prometheus.CounterVec
	subAgentSpawns  prometheus.Counter
	admissionDenied prometheus.CounterVec
	circuitState    prometheus.GaugeVec
	activeWorkflows prometheus.Gauge
	tokensUsed      prometheus.CounterVec
}

var (
	defaultEngineMetrics     *EngineMetrics
	defaultEngineMetricsOnce sync.Once
)

// NewEngineMetrics builds the recorder on the default registry.
func NewEngineMetrics() *EngineMetrics {
	defaultEngineMetricsOnce.Do(func() {
		defaultEngineMetrics = newEngineMetrics(prometheus.DefaultRegisterer)
	})
	return defaultEngineMetrics
}

// NewEngineMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewEngineMetricsWithRegisterer(reg prometheus.Registerer) *EngineMetrics {
	return newEngineMetrics(reg)
}

func newEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &EngineMetrics{
		executions: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Completed executions by terminal status",
		}, []string{"status"}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "engine",
			Name:      "iterations_per_execution",
			Help:      "Loop iterations consumed per execution",
			Buckets:   []float64{1, 2, 5, 10, 20, 35, 50},
		}),
		toolCalls: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "engine",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name and outcome",
		}, []string{"tool", "outcome"}),
		subAgentSpawns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "engine",
			Name:      "subagent_dispatches_total",
			Help:      "Sub-agent dispatches admitted",
		}),
		admissionDenied: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "engine",
			Name:      "admissions_denied_total",
			Help:      "Dispatches rejected by concurrency limits, by scope",
		}, []string{"scope"}),
		circuitState: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "conductor",
			Subsystem: "engine",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per agent class (0 closed, 1 open, 2 half-open)",
		}, []string{"class"}),
		activeWorkflows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "conductor",
			Subsystem: "engine",
			Name:      "active_workflows",
			Help:      "Workflows currently admitted by the concurrency gate",
		}),
		tokensUsed: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "engine",
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction",
		}, []string{"direction"}),
	}
}

// ObserveExecution records one finished execution.
func (m *EngineMetrics) ObserveExecution(status string, iterations, tokensIn, tokensOut int) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(status).Inc()
	m.iterations.Observe(float64(iterations))
	m.tokensUsed.WithLabelValues("in").Add(float64(tokensIn))
	m.tokensUsed.WithLabelValues("out").Add(float64(tokensOut))
}

// ObserveToolCall records one tool invocation outcome.
func (m *EngineMetrics) ObserveToolCall(tool string, succeeded bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !succeeded {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveSubAgentDispatch counts an admitted dispatch.
func (m *EngineMetrics) ObserveSubAgentDispatch() {
	if m == nil {
		return
	}
	m.subAgentSpawns.Inc()
}

// ObserveAdmissionDenied counts a concurrency rejection.
func (m *EngineMetrics) ObserveAdmissionDenied(scope string) {
	if m == nil {
		return
	}
	m.admissionDenied.WithLabelValues(scope).Inc()
}

// SetCircuitState publishes a breaker state change.
func (m *EngineMetrics) SetCircuitState(class string, state int) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(class).Set(float64(state))
}

// SetActiveWorkflows publishes the gate's active count.
func (m *EngineMetrics) SetActiveWorkflows(n int) {
	if m == nil {
		return
	}
	m.activeWorkflows.Set(float64(n))
}
