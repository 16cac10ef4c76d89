// Package obs holds the Prometheus metrics of the loan engine and its transport.
package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered on one registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	transitions     *prometheus.CounterVec
	stockRejections *prometheus.CounterVec
	rpcDuration     *prometheus.HistogramVec
	rateLimited     prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry, together with the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookloan_transitions_total",
				Help: "Loan and sale lifecycle events by outcome.",
			},
			[]string{"event", "outcome"},
		),
		stockRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookloan_stock_rejections_total",
				Help: "Reservations refused because the pool was empty.",
			},
			[]string{"kind"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookloan_rpc_duration_seconds",
				Help:    "gRPC handler latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookloan_rate_limited_total",
			Help: "Requests rejected by the per-identity rate limiter.",
		}),
	}
	m.reg.MustRegister(
		m.transitions, m.stockRejections, m.rpcDuration, m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Transition counts a lifecycle event, e.g. ("approve_loan", "ok").
func (m *Metrics) Transition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, outcome).Inc()
}

// StockRejected counts a reservation refused for pool kind.
func (m *Metrics) StockRejected(kind string) {
	if m == nil {
		return
	}
	m.stockRejections.WithLabelValues(kind).Inc()
}

// ObserveRPC records the latency of a finished call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcDuration.WithLabelValues(method, code).Observe(d.Seconds())
}

// RateLimited counts a throttled request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
