package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the contract workflow engine.
// All methods are safe to call on a nil receiver or a disabled instance.
type Metrics struct {
	config MetricsConfig

	// Workflow metrics
	transitions       *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec

	// Contract metrics
	contractsByStatus *prometheus.GaugeVec

	// Side-channel metrics
	notificationsDropped prometheus.Counter
	policyReloads        *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_transitions_total",
				Help:      "Total number of committed workflow actions by resulting contract status",
			},
			[]string{"action", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_operation_duration_seconds",
				Help:      "Duration of workflow operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		operationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_operation_errors_total",
				Help:      "Total number of failed workflow operations by error class",
			},
			[]string{"operation", "class"},
		),
		contractsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "contracts",
				Help:      "Number of contracts by status",
			},
			[]string{"status"},
		),
		notificationsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_dropped_total",
				Help:      "Total number of notifications that could not be published",
			},
		),
		policyReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_reloads_total",
				Help:      "Total number of role binding reloads by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.transitions,
		m.operationDuration,
		m.operationErrors,
		m.contractsByStatus,
		m.notificationsDropped,
		m.policyReloads,
	)

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordTransition records a committed action and the contract status it produced.
func (m *Metrics) RecordTransition(action, status string) {
	if !m.enabled() {
		return
	}
	m.transitions.WithLabelValues(action, status).Inc()
}

// ObserveOperation records the latency of a workflow operation.
func (m *Metrics) ObserveOperation(operation string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordOperationError records a failed operation by error class.
func (m *Metrics) RecordOperationError(operation, class string) {
	if !m.enabled() {
		return
	}
	m.operationErrors.WithLabelValues(operation, class).Inc()
}

// SetContractCount sets the number of contracts in a status.
func (m *Metrics) SetContractCount(status string, count float64) {
	if !m.enabled() {
		return
	}
	m.contractsByStatus.WithLabelValues(status).Set(count)
}

// RecordNotificationDropped counts a notification the publisher refused.
func (m *Metrics) RecordNotificationDropped() {
	if !m.enabled() {
		return
	}
	m.notificationsDropped.Inc()
}

// RecordPolicyReload records a role binding reload attempt.
func (m *Metrics) RecordPolicyReload(success bool) {
	if !m.enabled() {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.policyReloads.WithLabelValues(result).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
