package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	sweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_sweeps_total",
			Help: "Delivery sweeps by driver and outcome",
		},
		[]string{"driver", "outcome"},
	)

	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_sweep_duration_seconds",
			Help:    "Time spent in one delivery sweep",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"driver"},
	)

	entriesDisplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_entries_displayed_total",
			Help: "Scheduled notifications displayed by type",
		},
		[]string{"type"},
	)

	entriesPostponed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_entries_postponed_total",
			Help: "Scheduled notifications deferred by quiet hours",
		},
		[]string{"type"},
	)

	displayFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_display_failures_total",
			Help: "Display attempts that failed and left the entry pending",
		},
		[]string{"type"},
	)

	markSentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_mark_sent_failures_total",
			Help: "Entries displayed but not recorded as sent; the next sweep displays them again",
		},
		[]string{"type"},
	)

	deliveryLateness = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_delivery_lateness_seconds",
			Help:    "Time between schedule_time and display",
			Buckets: []float64{.1, 1, 5, 30, 60, 300, 900, 3600},
		},
		[]string{"driver"},
	)

	cleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_cleanup_deleted_total",
			Help: "Sent entries removed by the cleanup sweeper",
		},
	)

	controlMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_control_messages_total",
			Help: "Control messages by kind and direction",
		},
		[]string{"kind", "direction"},
	)

	wakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_background_wakes_total",
			Help: "Background driver wake-ups by reason",
		},
		[]string{"reason"},
	)

	pendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_pending_entries",
			Help: "Pending entries seen by the last sweep",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_rate_limit_rejections_total",
			Help: "Schedule writes rejected by the write limiter",
		},
		[]string{"scope"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSweep records one sweep run by driver ("foreground", "background").
func RecordSweep(driver, outcome string, duration time.Duration) {
	sweepsTotal.WithLabelValues(driver, outcome).Inc()
	sweepDuration.WithLabelValues(driver).Observe(duration.Seconds())
}

// RecordDisplayed records a displayed entry and how late it fired.
func RecordDisplayed(driver, typ string, lateness time.Duration) {
	entriesDisplayed.WithLabelValues(typ).Inc()
	if lateness < 0 {
		lateness = 0
	}
	deliveryLateness.WithLabelValues(driver).Observe(lateness.Seconds())
}

func RecordPostponed(typ string) {
	entriesPostponed.WithLabelValues(typ).Inc()
}

func RecordDisplayFailure(typ string) {
	displayFailures.WithLabelValues(typ).Inc()
}

// RecordMarkSentFailure records an entry that was displayed but could not be
// marked sent.
func RecordMarkSentFailure(typ string) {
	markSentFailures.WithLabelValues(typ).Inc()
}

func RecordCleanupDeleted(n int) {
	cleanupDeleted.Add(float64(n))
}

// RecordControlMessage records a control message; direction is "sent" or "received".
func RecordControlMessage(kind, direction string) {
	controlMessages.WithLabelValues(kind, direction).Inc()
}

func RecordWake(reason string) {
	wakesTotal.WithLabelValues(reason).Inc()
}

func SetPendingEntries(n int) {
	pendingEntries.Set(float64(n))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a schedule write rejected for scope.
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. The path
// label is the chi route pattern so ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
