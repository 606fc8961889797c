// Package metrics exposes Prometheus collectors for chain calls, reward
// claims, scheduler runs and the HTTP API. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletkeeper"

type Metrics struct {
	registry *prometheus.Registry

	chainCalls    *prometheus.CounterVec
	chainDuration *prometheus.HistogramVec
	claims        *prometheus.CounterVec
	schedulerRuns *prometheus.CounterVec
	schedulerAcct *prometheus.CounterVec
	schedulerDur  prometheus.Histogram
	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chainCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chain",
				Name:      "calls_total",
				Help:      "Chain gateway calls by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		chainDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "chain",
				Name:      "call_duration_seconds",
				Help:      "Duration of chain gateway calls.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"op"},
		),
		claims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rewards",
				Name:      "claims_total",
				Help:      "Reward claim attempts by outcome.",
			},
			[]string{"outcome"},
		),
		schedulerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "runs_total",
				Help:      "Reward distribution runs by result.",
			},
			[]string{"result"},
		),
		schedulerAcct: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "accounts_total",
				Help:      "Accounts processed by distribution runs, by outcome.",
			},
			[]string{"outcome"},
		),
		schedulerDur: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "run_duration_seconds",
				Help:      "Duration of reward distribution runs.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.chainCalls,
		m.chainDuration,
		m.claims,
		m.schedulerRuns,
		m.schedulerAcct,
		m.schedulerDur,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveChainCall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.chainCalls.WithLabelValues(op, outcome).Inc()
	m.chainDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) ObserveClaim(outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(outcome).Inc()
}

// ObserveSchedulerRun records one finished run. result is "completed",
// "failed" or "skipped" (overlapping run).
func (m *Metrics) ObserveSchedulerRun(result string, outcomes map[string]int, d time.Duration) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(result).Inc()
	for outcome, n := range outcomes {
		m.schedulerAcct.WithLabelValues(outcome).Add(float64(n))
	}
	if d > 0 {
		m.schedulerDur.Observe(d.Seconds())
	}
}

// InstrumentHandler wraps next with HTTP metrics. route should be the
// route template, not the raw path, to keep label cardinality bounded.
func (m *Metrics) InstrumentHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
