// Package metrics exposes the kernel's Prometheus collectors: executor
// action outcomes, scheduler loop restarts, and mint auctions resolved,
// plus an HTTP middleware for the dashboard API's own request metrics.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agent_kernel",
		Subsystem: "dashboard",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight dashboard HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent_kernel",
		Subsystem: "dashboard",
		Name:      "requests_total",
		Help:      "Total number of dashboard HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agent_kernel",
		Subsystem: "dashboard",
		Name:      "request_duration_seconds",
		Help:      "Duration of dashboard HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
	}, []string{"method", "path"})

	executorActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent_kernel",
		Subsystem: "executor",
		Name:      "actions_total",
		Help:      "Total executor actions dispatched, by verb and outcome.",
	}, []string{"verb", "outcome"})

	executorDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agent_kernel",
		Subsystem: "executor",
		Name:      "action_duration_seconds",
		Help:      "Duration of executor action dispatch, including sandboxed execution.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"verb"})

	schedulerRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent_kernel",
		Subsystem: "scheduler",
		Name:      "loop_restarts_total",
		Help:      "Total number of agent loop restarts, by artifact id.",
	}, []string{"artifact_id"})

	schedulerLoopsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agent_kernel",
		Subsystem: "scheduler",
		Name:      "loops_running",
		Help:      "Current number of running agent loops.",
	})

	mintAuctionsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent_kernel",
		Subsystem: "mint",
		Name:      "auctions_resolved_total",
		Help:      "Total number of sealed-bid auctions resolved, by outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		executorActions,
		executorDuration,
		schedulerRestarts,
		schedulerLoopsRunning,
		mintAuctionsResolved,
	)
}

// Handler exposes the registry over HTTP for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an http.Handler with request count/duration/
// in-flight tracking, keyed by a canonicalized path to keep label
// cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(r.Method, path, statusClass(rec.status)).Inc()
	})
}

// RecordExecutorAction records one dispatched executor action.
func RecordExecutorAction(verb, outcome string, duration time.Duration) {
	executorActions.WithLabelValues(verb, outcome).Inc()
	executorDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordLoopRestart records an agent loop restart.
func RecordLoopRestart(artifactID string) {
	schedulerRestarts.WithLabelValues(artifactID).Inc()
}

// SetLoopsRunning sets the current running-loop gauge.
func SetLoopsRunning(n int) {
	schedulerLoopsRunning.Set(float64(n))
}

// RecordAuctionResolved records one resolved mint auction.
func RecordAuctionResolved(outcome string) {
	mintAuctionsResolved.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) >= 2 {
		return "/" + parts[0] + "/:id"
	}
	return "/" + parts[0]
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "200"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
