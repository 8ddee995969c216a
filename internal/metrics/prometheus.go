// Package metrics provides a Prometheus metrics registry for the simulator.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// sim_inflight_requests
	inFlight prometheus.Gauge

	// sim_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// sim_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// sim_requests_total{dialect,model,status}
	requestsTotal *prometheus.CounterVec

	// sim_request_duration_seconds{dialect,endpoint}
	requestDuration *prometheus.HistogramVec

	// sim_tokens_total{model,direction}
	tokensTotal *prometheus.CounterVec

	// sim_streams_active
	streamsActive prometheus.Gauge

	// sim_stream_tokens_total{dialect}
	streamTokens *prometheus.CounterVec

	// sim_injected_errors_total{kind}
	injectedErrors *prometheus.CounterVec

	// sim_circuit_breaker_state{target} — 0=closed, 1=open, 2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// sim_circuit_breaker_transitions_total{target,to_state}
	cbTransitions *prometheus.CounterVec

	// sim_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// sim_auth_failures_total{reason}
	authFailures *prometheus.CounterVec

	// sim_dropped_logs_total
	droppedLogs prometheus.Counter

	// sim_build_info{version}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState map[string]float64

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sim_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sim_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (includes simulated latency)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_requests_total",
				Help: "Total simulated completion and embedding requests",
			},
			[]string{"dialect", "model", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sim_request_duration_seconds",
				Help:    "Simulated request duration in seconds",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"dialect", "endpoint"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_tokens_total",
				Help: "Token totals derived from simulated usage",
			},
			[]string{"model", "direction"},
		),

		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sim_streams_active",
			Help: "Streams currently being played out",
		}),

		streamTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_stream_tokens_total",
				Help: "Tokens emitted over streaming responses",
			},
			[]string{"dialect"},
		),

		injectedErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_injected_errors_total",
				Help: "Errors injected by the chaos engine",
			},
			[]string{"kind"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sim_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed,1=open,2=half-open)",
			},
			[]string{"target"},
		),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state",
			},
			[]string{"target", "to_state"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		authFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_auth_failures_total",
				Help: "Rejected authentication attempts",
			},
			[]string{"reason"},
		),

		droppedLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sim_dropped_logs_total",
			Help: "Request log entries dropped because the log buffer was full",
		}),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sim_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.requestsTotal,
		r.requestDuration,
		r.tokensTotal,
		r.streamsActive,
		r.streamTokens,
		r.injectedErrors,
		r.circuitBreakerState,
		r.cbTransitions,
		r.rateLimitTotal,
		r.authFailures,
		r.droppedLogs,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// RecordRequest records one simulated completion or embedding request.
func (r *Registry) RecordRequest(dialect, model string, statusCode int) {
	r.requestsTotal.WithLabelValues(dialect, model, strconv.Itoa(statusCode)).Inc()
}

// ObserveRequestDuration records the simulated duration of one request.
func (r *Registry) ObserveRequestDuration(dialect, endpoint string, dur time.Duration) {
	r.requestDuration.WithLabelValues(dialect, endpoint).Observe(dur.Seconds())
}

// AddTokens records usage totals.
func (r *Registry) AddTokens(model string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		r.tokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.tokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func (r *Registry) StreamStarted()  { r.streamsActive.Inc() }
func (r *Registry) StreamFinished() { r.streamsActive.Dec() }

func (r *Registry) AddStreamTokens(dialect string, n int) {
	if n > 0 {
		r.streamTokens.WithLabelValues(dialect).Add(float64(n))
	}
}

// RecordInjectedError counts one chaos-injected failure.
func (r *Registry) RecordInjectedError(kind string) {
	r.injectedErrors.WithLabelValues(kind).Inc()
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

func (r *Registry) RecordAuthFailure(reason string) {
	r.authFailures.WithLabelValues(reason).Inc()
}

// AddDroppedLogs counts log entries lost to a full buffer.
func (r *Registry) AddDroppedLogs(n int64) {
	if n > 0 {
		r.droppedLogs.Add(float64(n))
	}
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

// SetCircuitBreaker sets the circuit breaker state gauge and increments a
// transition counter when the state changes.
func (r *Registry) SetCircuitBreaker(target string, state int64) {
	r.circuitBreakerState.WithLabelValues(target).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[target]
	if !ok || prev != float64(state) {
		r.lastCBState[target] = float64(state)
		toState := strconv.FormatInt(state, 10)
		r.cbTransitions.WithLabelValues(target, toState).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
