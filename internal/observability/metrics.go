package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics owns the service collectors on a private registry.
type Metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	errors       *prometheus.CounterVec
	breaches     *prometheus.CounterVec
	scanDuration prometheus.Histogram
	bulkFailures prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_errors_total",
			Help: "HTTP error responses by route, method and error code.",
		}, []string{"path", "method", "code"}),
		breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_sla_breaches_total",
			Help: "SLA breaches flagged by the scanner.",
		}, []string{"kind"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "helpdesk_sla_scan_duration_seconds",
			Help:    "Duration of breach scanner runs.",
			Buckets: prometheus.DefBuckets,
		}),
		bulkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_bulk_failures_total",
			Help: "Tickets that failed inside bulk updates.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.errors,
		m.breaches,
		m.scanDuration,
		m.bulkFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the gatherer for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, _ time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordBreach counts one flagged breach of the given kind.
func (m *Metrics) RecordBreach(kind string) {
	if m == nil {
		return
	}
	m.breaches.WithLabelValues(kind).Inc()
}

// ObserveScan records how long a scanner run took.
func (m *Metrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(d.Seconds())
}

// RecordBulkFailures adds n failed bulk items.
func (m *Metrics) RecordBulkFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bulkFailures.Add(float64(n))
}
