package observer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentweave/core"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// MetricsOptions configures NewMetrics.
type MetricsOptions struct {
	// Namespace prefixes every metric name (default "agentweave").
	Namespace string
	// Buckets of the duration histogram in seconds.
	Buckets []float64
}

// Metrics records Prometheus metrics for agent invocations.
type Metrics struct {
	// Invocations counts finished invocations.
	// Labels: agent, status (success|error), error_type
	Invocations *prometheus.CounterVec

	// Duration measures invocation latency in seconds.
	// Labels: agent, status
	Duration *prometheus.HistogramVec

	// Tokens counts tokens consumed by top level invocations so nested
	// calls are not counted twice.
	// Labels: agent, type (input|output)
	Tokens *prometheus.CounterVec

	// InFlight is the number of running invocations.
	// Labels: agent
	InFlight *prometheus.GaugeVec

	mu      sync.Mutex
	started map[string]time.Time
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, optFns ...func(o *MetricsOptions)) *Metrics {
	opts := MetricsOptions{
		Namespace: "agentweave",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Metrics{
		Invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "agent_invocations_total",
				Help:      "Total number of agent invocations by agent, status and error type",
			},
			[]string{"agent", "status", "error_type"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Name:      "agent_invocation_duration_seconds",
				Help:      "Duration of agent invocations in seconds",
				Buckets:   opts.Buckets,
			},
			[]string{"agent", "status"},
		),
		Tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "tokens_total",
				Help:      "Total number of model tokens consumed by top level invocations",
			},
			[]string{"agent", "type"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: opts.Namespace,
				Name:      "agent_invocations_in_flight",
				Help:      "Number of agent invocations currently running",
			},
			[]string{"agent"},
		),
		started: make(map[string]time.Time),
	}

	if reg != nil {
		reg.MustRegister(m.Invocations, m.Duration, m.Tokens, m.InFlight)
	}

	return m
}

// OnEvent implements core.Observer.
func (m *Metrics) OnEvent(ev core.Event) {
	agent := ev.Agent.Name

	if ev.Type == core.EventAgentStarted {
		m.mu.Lock()
		m.started[ev.ContextID] = ev.Timestamp
		m.mu.Unlock()

		m.InFlight.WithLabelValues(agent).Inc()

		return
	}

	if !ev.IsTerminal() {
		return
	}

	m.mu.Lock()
	start, ok := m.started[ev.ContextID]
	delete(m.started, ev.ContextID)
	m.mu.Unlock()

	status := StatusSuccess
	if ev.Type == core.EventAgentFailed {
		status = StatusError
	}

	m.InFlight.WithLabelValues(agent).Dec()
	m.Invocations.WithLabelValues(agent, status, core.ErrorType(ev.Err)).Inc()

	if ok {
		m.Duration.WithLabelValues(agent, status).Observe(ev.Duration(start).Seconds())
	}

	if ev.ParentContextID == ev.RootID {
		m.Tokens.WithLabelValues(agent, "input").Add(float64(ev.Usage.InputTokens))
		m.Tokens.WithLabelValues(agent, "output").Add(float64(ev.Usage.OutputTokens))
	}
}
