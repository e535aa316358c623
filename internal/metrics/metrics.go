// Package metrics exposes the gateway Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	dispatchAttempts  prometheus.Counter
	dispatchOutcomes  *prometheus.CounterVec
	ingestResults     *prometheus.CounterVec
	persistFailures   prometheus.Counter
	kpiErrors         prometheus.Counter
	breakerState      *prometheus.GaugeVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		dispatchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_dispatch_attempts_total",
			Help: "Device calls made by the actuator dispatcher.",
		}),
		dispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_dispatch_outcomes_total",
			Help: "Dispatch outcomes by result (ok, error).",
		}, []string{"result"}),
		ingestResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ingest_polls_total",
			Help: "Telemetry polls by result (stored, absorbed, upstream_error).",
		}, []string{"result"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_persist_failures_total",
			Help: "Reading writes that failed during ingestion.",
		}),
		kpiErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_kpi_errors_total",
			Help: "KPI computations that failed on a store error.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"target"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.dispatchAttempts,
		m.dispatchOutcomes,
		m.ingestResults,
		m.persistFailures,
		m.kpiErrors,
		m.breakerState,
	)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts and times requests on route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) DispatchAttempt() {
	if m == nil {
		return
	}
	m.dispatchAttempts.Inc()
}

func (m *Metrics) DispatchOutcome(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.dispatchOutcomes.WithLabelValues("ok").Inc()
		return
	}
	m.dispatchOutcomes.WithLabelValues("error").Inc()
}

func (m *Metrics) IngestResult(result string) {
	if m == nil {
		return
	}
	m.ingestResults.WithLabelValues(result).Inc()
}

func (m *Metrics) PersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) KPIError() {
	if m == nil {
		return
	}
	m.kpiErrors.Inc()
}

// SetBreakerState accepts the gobreaker state names.
func (m *Metrics) SetBreakerState(target, state string) {
	if m == nil {
		return
	}
	v := 0.0
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(target).Set(v)
}
