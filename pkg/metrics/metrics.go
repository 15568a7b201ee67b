// Package metrics defines the Prometheus instrumentation for letterfeed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingress metrics
var (
	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "letterfeed_messages_received_total",
			Help: "Total number of inbound messages accepted by the SMTP layer",
		},
	)

	MessageSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "letterfeed_message_size_bytes",
			Help:    "Size of accepted inbound messages in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterfeed_deliveries_total",
			Help: "Delivery pipeline outcomes per accepted message",
		},
		[]string{"result"}, // delivered, no_target, unknown_reference, error
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "letterfeed_delivery_duration_seconds",
			Help:    "Duration of delivery pipeline runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Feed store metrics
var (
	FeedsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "letterfeed_feeds_created_total",
			Help: "Total number of feeds created",
		},
	)

	FeedsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "letterfeed_feeds_current",
			Help: "Current number of feeds in the store",
		},
	)

	EntriesAppendedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "letterfeed_entries_appended_total",
			Help: "Total number of entries appended to feeds",
		},
	)

	EntriesEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "letterfeed_entries_evicted_total",
			Help: "Total number of entries evicted to satisfy feed size budgets",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterfeed_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"handler", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "letterfeed_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)
)
