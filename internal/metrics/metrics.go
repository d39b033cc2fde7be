// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequests tracks webhook deliveries by outcome.
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	// RawEvents tracks raw event status transitions.
	RawEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raw_events_total",
			Help: "Raw event status transitions",
		},
		[]string{"status"},
	)

	// EventsProcessed tracks raw events that reached a terminal state.
	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_processed_total",
			Help: "Raw events processed to completion",
		},
	)

	// EventProcessingSeconds tracks per-event processing duration.
	EventProcessingSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "event_processing_seconds",
			Help:    "Raw event processing duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// FlowExecutions tracks flow executions by terminal status.
	FlowExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_executions_total",
			Help: "Flow executions by terminal status",
		},
		[]string{"status"},
	)

	// FlowNodeVisits tracks executed flow nodes by type.
	FlowNodeVisits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_node_visits_total",
			Help: "Flow nodes executed by node type",
		},
		[]string{"type"},
	)

	// Dispatches tracks outbound dispatch attempts by result.
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_total",
			Help: "Outbound dispatch attempts by result",
		},
		[]string{"result"},
	)

	// RateLimitDecisions tracks send permit decisions.
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Send rate limit decisions",
		},
		[]string{"allowed"},
	)

	// QueueDepth tracks jobs buffered per job kind.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Jobs buffered in the queue per kind",
		},
		[]string{"kind"},
	)

	// WSClients tracks connected event stream clients.
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Connected WebSocket event stream clients",
		},
	)

	// HTTPRequests tracks served HTTP requests. The route label is the mux
	// route template, not the raw path, to keep cardinality bounded.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestSeconds tracks HTTP request duration.
	HTTPRequestSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordWebhook records one webhook delivery outcome.
func RecordWebhook(outcome string) {
	WebhookRequests.WithLabelValues(outcome).Inc()
}

// RecordEventProcessed records a terminal processing outcome and its duration.
func RecordEventProcessed(status string, duration time.Duration) {
	EventsProcessed.Inc()
	RawEvents.WithLabelValues(status).Inc()
	EventProcessingSeconds.Observe(duration.Seconds())
}

// RecordDispatch records one dispatch attempt result.
func RecordDispatch(result string) {
	Dispatches.WithLabelValues(result).Inc()
}

// RecordRateLimitDecision records a send permit decision.
func RecordRateLimitDecision(allowed bool) {
	RateLimitDecisions.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
