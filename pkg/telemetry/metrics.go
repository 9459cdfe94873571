// Package telemetry exposes the gateway's prometheus metrics and the
// OpenTelemetry tracer used to span unary calls.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hubgate"

var (
	// Unary request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Unary calls by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Wall time of unary calls including retries",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method"},
	)

	RequestRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Retry attempts of unary calls",
		},
		[]string{"method"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "cache_lookups_total",
			Help:      "Cacheable reads by result",
		},
		[]string{"result"},
	)

	// Stream metrics
	StreamReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventstream",
			Name:      "reconnects_total",
			Help:      "Reconnects scheduled after a transport failure",
		},
		[]string{"stream"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventstream",
			Name:      "frames_dropped_total",
			Help:      "Malformed frames discarded",
		},
		[]string{"stream"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventstream",
			Name:      "events_delivered_total",
			Help:      "Events handed to subscribers",
		},
		[]string{"stream"},
	)

	// Bus metrics
	BusMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "messages_dropped_total",
			Help:      "In-memory bus deliveries skipped for a lagging subscriber",
		},
		[]string{"pattern"},
	)

	// Terminal metrics
	TerminalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "state_transitions_total",
			Help:      "Terminal connection state transitions by target state",
		},
		[]string{"state"},
	)

	// Chat metrics
	ChatTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chatstream",
			Name:      "tokens_total",
			Help:      "Token fragments emitted by chat streams",
		},
	)

	ChatStreamFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chatstream",
			Name:      "failures_total",
			Help:      "Chat streams that failed before completing",
		},
	)
)

// Outcome labels for RequestsTotal.
const (
	OutcomeOK        = "ok"
	OutcomeHTTPError = "http_error"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport"
	OutcomeOther     = "error"
)

// Cache result labels.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)
