// Package metrics holds the Prometheus collectors exported by the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "backoffice"

// Metrics groups the pipeline engine, event fan-out and HTTP collectors.
// All methods are safe on a nil receiver.
type Metrics struct {
	Operations      *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	Conflicts       *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	SweepMoved      prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "operations_total",
				Help:      "Pipeline engine operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		OperationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "operation_duration_seconds",
				Help:      "Pipeline engine operation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "conflicts_total",
				Help:      "Optimistic concurrency conflicts on deal writes",
			},
			[]string{"operation"},
		),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Pipeline events delivered to sinks",
			},
			[]string{"sink", "status"},
		),
		SweepMoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "automation",
				Name:      "stale_deals_moved_total",
				Help:      "Deals moved to lost by the stale lead sweep",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests by route and status code",
			},
			[]string{"method", "route", "status"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.Operations,
			m.OperationTime,
			m.Conflicts,
			m.EventsPublished,
			m.SweepMoved,
			m.HTTPRequests,
		)
	}
	return m
}

// ObserveOperation records one engine call and its latency.
func (m *Metrics) ObserveOperation(operation, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, result).Inc()
	m.OperationTime.WithLabelValues(operation).Observe(elapsed.Seconds())
	if result == "conflict" {
		m.Conflicts.WithLabelValues(operation).Inc()
	}
}

// ObservePublish records one event delivery attempt.
func (m *Metrics) ObservePublish(sink string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EventsPublished.WithLabelValues(sink, status).Inc()
}

// AddSweepMoved counts deals closed by the stale sweep.
func (m *Metrics) AddSweepMoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweepMoved.Add(float64(n))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
}
