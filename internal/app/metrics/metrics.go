// Package metrics exposes the server's Prometheus collectors on a private
// registry under the reviewgame namespace.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reviewgame",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewgame",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reviewgame",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	gamesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reviewgame",
			Subsystem: "games",
			Name:      "created_total",
			Help:      "Total number of games created.",
		},
	)

	buzzes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewgame",
			Subsystem: "games",
			Name:      "buzzes_total",
			Help:      "Total number of buzz attempts.",
		},
		[]string{"accepted"},
	)

	finalWagers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewgame",
			Subsystem: "games",
			Name:      "final_wagers_total",
			Help:      "Total number of Final Jeopardy wager submissions.",
		},
		[]string{"status"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reviewgame",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of billing webhook events received.",
		},
		[]string{"type"},
	)

	impersonationSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reviewgame",
			Subsystem: "admin",
			Name:      "impersonation_sessions_total",
			Help:      "Total number of impersonation sessions opened.",
		},
	)

	websocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reviewgame",
			Subsystem: "events",
			Name:      "websocket_connections",
			Help:      "Current number of connected game event sockets.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		gamesCreated,
		buzzes,
		finalWagers,
		webhookEvents,
		impersonationSessions,
		websocketConnections,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordGameCreated counts a successful game creation.
func RecordGameCreated() {
	gamesCreated.Inc()
}

// RecordBuzz counts a buzz attempt.
func RecordBuzz(accepted bool) {
	buzzes.WithLabelValues(strconv.FormatBool(accepted)).Inc()
}

// RecordFinalWager counts a Final Jeopardy wager submission.
func RecordFinalWager(status string) {
	if status == "" {
		status = "unknown"
	}
	finalWagers.WithLabelValues(status).Inc()
}

// RecordWebhookEvent counts a billing webhook event by type.
func RecordWebhookEvent(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	webhookEvents.WithLabelValues(eventType).Inc()
}

// RecordImpersonationSession counts an opened impersonation session.
func RecordImpersonationSession() {
	impersonationSessions.Inc()
}

// WebSocketConnected tracks a new event socket.
func WebSocketConnected() {
	websocketConnections.Inc()
}

// WebSocketDisconnected tracks a closed event socket.
func WebSocketDisconnected() {
	websocketConnections.Dec()
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

// Hijack lets the websocket upgrade reach the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// canonicalPath collapses identifiers so route labels stay low-cardinality.
// UUID segments become :id; the join-code segment under /play/games
// becomes :code.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		if _, err := uuid.Parse(part); err == nil {
			parts[i] = ":id"
			continue
		}
		if i >= 2 && parts[i-2] == "play" && parts[i-1] == "games" {
			parts[i] = ":code"
		}
	}
	return "/" + strings.Join(parts, "/")
}
