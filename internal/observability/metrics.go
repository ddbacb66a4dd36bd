package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "approvalflow"

// Decision sources.
const (
	SourceActor     = "actor"
	SourceScheduler = "scheduler"
)

// Scheduler cycle outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds all metrics for the approvalflow service. Each Metrics owns
// its registry so tests and embedded servers never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	// Service layer metrics
	instancesCreated prometheus.Counter
	decisions        *prometheus.CounterVec
	txDuration       *prometheus.HistogramVec

	// Scheduler metrics
	schedulerCycles *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	expiredResolved prometheus.Counter
	nextWake        prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		instancesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_created_total",
			Help:      "Total number of workflow instances created.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of decisions applied to instance steps.",
		}, []string{"decision", "source"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Duration of service transactions by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),

		schedulerCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total number of expiration cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of expiration cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		expiredResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "expired_steps_resolved_total",
			Help:      "Total number of expired steps resolved by the scheduler.",
		}),
		nextWake: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "next_wake_seconds",
			Help:      "Interval returned by the most recent expiration cycle.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.instancesCreated,
		m.decisions,
		m.txDuration,
		m.schedulerCycles,
		m.cycleDuration,
		m.expiredResolved,
		m.nextWake,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InstanceCreated counts a committed instance creation.
func (m *Metrics) InstanceCreated() {
	if m == nil {
		return
	}
	m.instancesCreated.Inc()
}

// DecisionApplied counts a committed decision.
func (m *Metrics) DecisionApplied(decision, source string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision, source).Inc()
}

// ObserveTransaction records how long a service operation held its transaction.
func (m *Metrics) ObserveTransaction(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// CycleCompleted records one expiration cycle.
func (m *Metrics) CycleCompleted(outcome string, d time.Duration, resolved int, next time.Duration) {
	if m == nil {
		return
	}
	m.schedulerCycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.expiredResolved.Add(float64(resolved))
	m.nextWake.Set(next.Seconds())
}
