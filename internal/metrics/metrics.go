// Package metrics provides Prometheus metrics for the SparkleShare client core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request queue metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkleshare_client_requests_total",
			Help: "Total number of dashboard API requests by HTTP method and outcome",
		},
		[]string{"method", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sparkleshare_client_request_duration_seconds",
			Help:    "Dashboard API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sparkleshare_client_requests_in_flight",
			Help: "Number of requests currently executing on queue workers",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sparkleshare_client_queue_depth",
			Help: "Number of requests waiting for a queue worker",
		},
	)

	// Content transfer metrics
	contentBytesLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparkleshare_client_content_bytes_loaded_total",
			Help: "Total bytes of file content loaded",
		},
	)

	contentBytesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparkleshare_client_content_bytes_saved_total",
			Help: "Total bytes of file content saved",
		},
	)

	// Link metrics
	linkAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkleshare_client_link_attempts_total",
			Help: "Total device link attempts",
		},
		[]string{"result"},
	)

	// Recent files
	recentFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sparkleshare_client_recent_files",
			Help: "Number of entries in the recent files store",
		},
	)

	// Change notifications
	subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sparkleshare_client_event_subscribers",
			Help: "Number of active change subscribers",
		},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkleshare_client_events_total",
			Help: "Change events by type and delivery result",
		},
		[]string{"type", "result"},
	)

	persistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkleshare_client_persistence_failures_total",
			Help: "Persisted state that could not be read or written",
		},
		[]string{"key", "op"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records a finished request.
func RecordRequest(method, outcome string, duration time.Duration) {
	requestsTotal.WithLabelValues(method, outcome).Inc()
	requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// IncInFlight marks a request as started on a worker.
func IncInFlight() {
	requestsInFlight.Inc()
}

// DecInFlight marks a request as finished on a worker.
func DecInFlight() {
	requestsInFlight.Dec()
}

// AddQueueDepth adjusts the waiting request gauge.
func AddQueueDepth(delta float64) {
	queueDepth.Add(delta)
}

// RecordContentLoaded records downloaded file content.
func RecordContentLoaded(bytes int) {
	contentBytesLoaded.Add(float64(bytes))
}

// RecordContentSaved records uploaded file content.
func RecordContentSaved(bytes int) {
	contentBytesSaved.Add(float64(bytes))
}

// RecordLinkAttempt records a device link attempt.
func RecordLinkAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	linkAttemptsTotal.WithLabelValues(result).Inc()
}

// SetRecentFiles sets the recent files gauge.
func SetRecentFiles(count int) {
	recentFiles.Set(float64(count))
}

// RecordPersistenceFailure records a failed read or write of persisted state.
func RecordPersistenceFailure(key, op string) {
	persistenceFailures.WithLabelValues(key, op).Inc()
}

// SetSubscribers sets the change subscriber gauge.
func SetSubscribers(n int) {
	subscribers.Set(float64(n))
}

// RecordEvent records one delivery attempt of a change event.
func RecordEvent(eventType string, delivered bool) {
	result := "dropped"
	if delivered {
		result = "delivered"
	}
	eventsPublished.WithLabelValues(eventType, result).Inc()
}
