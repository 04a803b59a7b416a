package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes Prometheus counters on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	messagesTotal    prometheus.Counter
}

// NewMetrics initializes the registry and collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketd_http_requests_total",
			Help: "HTTP requests by path, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketd_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketd_http_errors_total",
			Help: "Errors returned to clients by code.",
		}, []string{"path", "method", "code"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketd_ticket_transitions_total",
			Help: "Ticket status transitions applied.",
		}, []string{"from", "to"}),
		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketd_ticket_messages_total",
			Help: "Ticket messages created.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.errorsTotal, m.transitionsTotal, m.messagesTotal)
	return m
}

// RecordRequest increments counters for a served request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(path, method, code).Inc()
}

// RecordTransition increments the transition counter.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordMessage increments the message counter.
func (m *Metrics) RecordMessage() {
	if m == nil {
		return
	}
	m.messagesTotal.Inc()
}

// Server returns a plain HTTP server exposing /metrics on addr. Served
// separately from the Fiber app so scraping never competes with API traffic.
func (m *Metrics) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
