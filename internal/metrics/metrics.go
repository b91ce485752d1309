// Package metrics provides Prometheus instrumentation for the auction
// settlement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksCreated counts auction tasks created.
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lvr_tasks_created_total",
		Help: "Total number of auction tasks created",
	})

	// ActiveTasks tracks tasks currently collecting responses.
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lvr_active_tasks",
		Help: "Number of tasks currently collecting responses",
	})

	// ResponsesTotal counts operator responses, partitioned by outcome.
	ResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lvr_operator_responses_total",
		Help: "Total operator responses received",
	}, []string{"outcome"}) // accepted, duplicate, rejected

	// ConsensusReached counts tasks that reached a quorum-backed outcome.
	ConsensusReached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lvr_consensus_reached_total",
		Help: "Tasks that reached consensus",
	})

	// TasksExpired counts tasks that hit the deadline without quorum.
	TasksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lvr_tasks_expired_total",
		Help: "Tasks expired without consensus",
	})

	// SettlementsTotal counts committed settlement records.
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lvr_settlements_total",
		Help: "Settlement records committed",
	})

	// ChallengesTotal counts challenges raised against settled tasks.
	ChallengesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lvr_challenges_total",
		Help: "Challenges raised within the dispute window",
	})

	// TransferFailures counts payment-sink transfers left pending retry.
	TransferFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lvr_transfer_failures_total",
		Help: "Payment sink transfers that failed and await retry",
	}, []string{"share"})

	// SubmitLatency tracks response ingestion latency, including the
	// consensus re-evaluation under the task lock.
	SubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lvr_submit_latency_seconds",
		Help:    "Response submission latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected event-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lvr_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lvr_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lvr_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; route cardinality is low.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
