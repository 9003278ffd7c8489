// Package metrics owns the Prometheus registry for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for gRPC dispatch.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
)

// Metrics holds every metric the gateway emits. Initialised once at startup
// and shared read-only afterwards.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	grpcCalls       *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec

	breakerState *prometheus.GaugeVec

	trackedClients prometheus.Gauge
	evictionsTotal prometheus.Counter

	routesTotal      prometheus.Gauge
	discoverySweeps  prometheus.Counter
	discoveryErrors  *prometheus.CounterVec
	policyCacheHits  prometheus.Counter
	policyCacheMiss  prometheus.Counter
}

// New creates and registers all gateway metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total HTTP requests handled by the gateway.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"path", "method"}),
		grpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_grpc_calls_total",
			Help: "Total gRPC dispatches by outcome.",
		}, []string{"service", "method", "outcome"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_grpc_retries_total",
			Help: "Total gRPC call retry attempts.",
		}, []string{"service", "method"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per backend (0=closed, 1=open, 2=half_open).",
		}, []string{"backend"}),
		trackedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ratelimit_tracked_clients",
			Help: "Client IPs currently tracked by the rate limiter.",
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ratelimit_evictions_total",
			Help: "Rate limiter buckets evicted (idle TTL or capacity).",
		}),
		routesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_routes",
			Help: "Routes currently in the live routing table.",
		}),
		discoverySweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_discovery_sweeps_total",
			Help: "Completed route discovery sweeps.",
		}),
		discoveryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_discovery_errors_total",
			Help: "Per-backend discovery failures by kind.",
		}, []string{"backend", "kind"}),
		policyCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_policy_cache_hits_total",
			Help: "Auth policy cache hits.",
		}),
		policyCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_policy_cache_misses_total",
			Help: "Auth policy cache misses.",
		}),
	}

	reg.MustRegister(
		m.requestsTotal, m.requestDuration, m.grpcCalls, m.retriesTotal,
		m.breakerState, m.trackedClients, m.evictionsTotal,
		m.routesTotal, m.discoverySweeps, m.discoveryErrors,
		m.policyCacheHits, m.policyCacheMiss,
	)
	return m
}

// Handler returns the /metrics exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed HTTP request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordGRPCCall records one dispatch attempt outcome.
func (m *Metrics) RecordGRPCCall(service, method, outcome string) {
	m.grpcCalls.WithLabelValues(service, method, outcome).Inc()
}

// RecordRetry records one retry of a gRPC call.
func (m *Metrics) RecordRetry(service, method string) {
	m.retriesTotal.WithLabelValues(service, method).Inc()
}

// SetBreakerState publishes a breaker state change.
func (m *Metrics) SetBreakerState(backend string, state int) {
	m.breakerState.WithLabelValues(backend).Set(float64(state))
}

// SetTrackedClients publishes the post-cleanup tracked client count.
func (m *Metrics) SetTrackedClients(n int) {
	m.trackedClients.Set(float64(n))
}

// AddEvictions counts rate limiter bucket evictions.
func (m *Metrics) AddEvictions(n int) {
	m.evictionsTotal.Add(float64(n))
}

// SetRouteCount publishes the live routing table size.
func (m *Metrics) SetRouteCount(n int) {
	m.routesTotal.Set(float64(n))
}

// RecordDiscoverySweep counts one completed sweep.
func (m *Metrics) RecordDiscoverySweep() {
	m.discoverySweeps.Inc()
}

// RecordDiscoveryError counts a per-backend discovery failure.
func (m *Metrics) RecordDiscoveryError(backend, kind string) {
	m.discoveryErrors.WithLabelValues(backend, kind).Inc()
}

// RecordPolicyCache counts a policy cache lookup.
func (m *Metrics) RecordPolicyCache(hit bool) {
	if hit {
		m.policyCacheHits.Inc()
	} else {
		m.policyCacheMiss.Inc()
	}
}
