package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice_gateway"

// PrometheusMetrics keeps its collectors on a private registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	synthesisTotal    *prometheus.CounterVec
	synthesisDuration *prometheus.HistogramVec
	upstreamTotal     *prometheus.CounterVec
	upstreamDuration  *prometheus.HistogramVec
	bookkeeping       *prometheus.CounterVec
	inFlight          prometheus.Gauge
}

// NewPrometheusMetrics registers the gateway collectors plus the Go runtime collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: reg,
		synthesisTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Synthesis requests by outcome.",
		}, []string{"outcome"}),
		synthesisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Wall time of synthesis requests.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 180},
		}, []string{"outcome"}),
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Provider calls by outcome.",
		}, []string{"outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_attempt_duration_seconds",
			Help:      "Latency of single provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"outcome"}),
		bookkeeping: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookkeeping_failures_total",
			Help:      "Post-success steps that failed to record.",
		}, []string{"step"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synthesis_in_flight",
			Help:      "Jobs currently holding a gate permit.",
		}),
	}

	reg.MustRegister(
		m.synthesisTotal,
		m.synthesisDuration,
		m.upstreamTotal,
		m.upstreamDuration,
		m.bookkeeping,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) ObserveSynthesis(outcome string, elapsed time.Duration) {
	m.synthesisTotal.WithLabelValues(outcome).Inc()
	m.synthesisDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) ObserveUpstreamAttempt(outcome string, elapsed time.Duration) {
	m.upstreamTotal.WithLabelValues(outcome).Inc()
	m.upstreamDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) BookkeepingFailed(step string) {
	m.bookkeeping.WithLabelValues(step).Inc()
}

func (m *PrometheusMetrics) SetInFlight(n int) {
	m.inFlight.Set(float64(n))
}

func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
