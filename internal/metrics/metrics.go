package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "dm_service"
)

// Metrics holds all application metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// WebSocket metrics
	WSConnectionsTotal  prometheus.Counter
	WSActiveConnections prometheus.Gauge
	WSEventsTotal       *prometheus.CounterVec
	WSEventsDropped     *prometheus.CounterVec

	// Presence metrics
	OnlineUsers       prometheus.Gauge
	DebounceScheduled prometheus.Counter
	DebounceCancelled prometheus.Counter
	DebounceFired     prometheus.Counter

	// Message lifecycle metrics
	MessagesSentTotal      prometheus.Counter
	MessagesDeliveredTotal prometheus.Counter
	MessagesReadTotal      prometheus.Counter
	DeliveryFailuresTotal  prometheus.Counter

	// Storage metrics
	StoreErrors *prometheus.CounterVec
}

// New creates and registers all metrics with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates and registers all metrics with a custom registry
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		WSConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_connections_total",
				Help:      "Total number of WebSocket connections",
			},
		),
		WSActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_active_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		WSEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_events_total",
				Help:      "Inbound WebSocket events by type",
			},
			[]string{"type"},
		),
		WSEventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_events_dropped_total",
				Help:      "Inbound WebSocket events dropped before handling",
			},
			[]string{"reason"},
		),

		OnlineUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "presence_online_users",
				Help:      "Number of users in the presence registry",
			},
		),
		DebounceScheduled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_offline_timers_scheduled_total",
				Help:      "Offline transitions scheduled after a disconnect",
			},
		),
		DebounceCancelled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_offline_timers_cancelled_total",
				Help:      "Offline transitions cancelled by a reconnect",
			},
		),
		DebounceFired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "presence_offline_transitions_total",
				Help:      "Users moved offline after the debounce delay",
			},
		),

		MessagesSentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of messages persisted",
			},
		),
		MessagesDeliveredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_delivered_total",
				Help:      "Messages pushed to a live recipient connection",
			},
		),
		MessagesReadTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_read_total",
				Help:      "Messages marked as read",
			},
		),
		DeliveryFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_delivery_failures_total",
				Help:      "Messages that could not be persisted",
			},
		),

		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Persistence gateway errors by operation",
			},
			[]string{"operation"},
		),
	}
}

// RecordStoreError increments the store error counter for an operation
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// RecordEvent counts an inbound event by type
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.WSEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordDroppedEvent counts an inbound event rejected before handling
func (m *Metrics) RecordDroppedEvent(reason string) {
	if m == nil {
		return
	}
	m.WSEventsDropped.WithLabelValues(reason).Inc()
}

// RecordConnection increments WebSocket connection counters
func (m *Metrics) RecordConnection() {
	if m == nil {
		return
	}
	m.WSConnectionsTotal.Inc()
	m.WSActiveConnections.Inc()
}

// RecordDisconnection decrements the active WebSocket connection gauge
func (m *Metrics) RecordDisconnection() {
	if m == nil {
		return
	}
	m.WSActiveConnections.Dec()
}

// SetOnlineUsers sets the online users gauge
func (m *Metrics) SetOnlineUsers(count int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(count))
}

// RecordMessageSent increments the persisted message counter
func (m *Metrics) RecordMessageSent() {
	if m == nil {
		return
	}
	m.MessagesSentTotal.Inc()
}

// RecordMessageDelivered increments the delivered message counter
func (m *Metrics) RecordMessageDelivered() {
	if m == nil {
		return
	}
	m.MessagesDeliveredTotal.Inc()
}

// RecordMessageRead increments the read message counter
func (m *Metrics) RecordMessageRead() {
	if m == nil {
		return
	}
	m.MessagesReadTotal.Inc()
}

// RecordDeliveryFailure increments the failed send counter
func (m *Metrics) RecordDeliveryFailure() {
	if m == nil {
		return
	}
	m.DeliveryFailuresTotal.Inc()
}

// RecordOfflineScheduled counts a debounce timer armed on disconnect
func (m *Metrics) RecordOfflineScheduled() {
	if m == nil {
		return
	}
	m.DebounceScheduled.Inc()
}

// RecordOfflineCancelled counts a debounce timer cancelled by a reconnect
func (m *Metrics) RecordOfflineCancelled() {
	if m == nil {
		return
	}
	m.DebounceCancelled.Inc()
}

// RecordOfflineTransition counts a user moved offline
func (m *Metrics) RecordOfflineTransition() {
	if m == nil {
		return
	}
	m.DebounceFired.Inc()
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, categorizeStatus(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// categorizeStatus converts status code to category (2xx, 3xx, 4xx, 5xx)
func categorizeStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// ShouldSkipEndpoint reports paths excluded from HTTP metrics
func ShouldSkipEndpoint(path string) bool {
	return path == "/metrics" || path == "/health" || path == "/ready"
}
