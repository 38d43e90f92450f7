package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the SDK-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	apiInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mindwell",
			Subsystem: "api",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight API requests.",
		},
	)

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindwell",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests issued by the client.",
		},
		[]string{"method", "route", "status"},
	)

	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mindwell",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	apiCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindwell",
			Subsystem: "api",
			Name:      "cache_hits_total",
			Help:      "GET requests served from the response cache.",
		},
	)

	realtimeReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindwell",
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts made by the realtime channel.",
		},
	)

	realtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindwell",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Realtime events dispatched to handlers.",
		},
		[]string{"event"},
	)

	storeActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindwell",
			Subsystem: "store",
			Name:      "actions_total",
			Help:      "Store operations by outcome.",
		},
		[]string{"store", "action", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		apiInFlight,
		apiRequests,
		apiDuration,
		apiCacheHits,
		realtimeReconnects,
		realtimeEvents,
		storeActions,
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveAPIRequest records one API request issued by the client.
func ObserveAPIRequest(method, route string, status int, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	method = strings.ToUpper(method)
	route = canonicalRoute(route)
	apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	apiDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// APIInFlight tracks an in-flight request; call the returned func when done.
func APIInFlight() func() {
	apiInFlight.Inc()
	return apiInFlight.Dec
}

// RecordCacheHit counts a GET served from the response cache.
func RecordCacheHit() {
	apiCacheHits.Inc()
}

// RecordReconnect counts a realtime reconnection attempt.
func RecordReconnect() {
	realtimeReconnects.Inc()
}

// RecordRealtimeEvent counts a dispatched realtime event.
func RecordRealtimeEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	realtimeEvents.WithLabelValues(event).Inc()
}

// RecordStoreAction counts a store operation outcome.
func RecordStoreAction(store, action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeActions.WithLabelValues(store, action, outcome).Inc()
}

// canonicalRoute collapses entity IDs so the route label stays low-cardinality.
// /habits/42/complete becomes /habits/:id/complete.
func canonicalRoute(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i := 1; i < len(parts); i++ {
		if isIDSegment(parts[i]) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isIDSegment(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r == '-':
		default:
			return false
		}
	}
	// Require at least one digit so words like "feed" are kept.
	return strings.ContainsAny(s, "0123456789")
}
