package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Relay pipeline
	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linecord_messages_received_total",
			Help: "Total number of square messages received from LINE",
		},
	)

	// MessagesHandled counts messages that reached a final outcome,
	// relayed or dropped. Received minus handled is the work in flight.
	MessagesHandled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linecord_messages_handled_total",
			Help: "Total number of square messages that finished processing",
		},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linecord_messages_dropped_total",
			Help: "Total number of messages not relayed, by reason",
		},
		[]string{"reason"},
	)

	// Discord webhook
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linecord_deliveries_total",
			Help: "Total number of webhook deliveries, by outcome",
		},
		[]string{"status"},
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linecord_delivery_duration_seconds",
			Help:    "Duration of webhook deliveries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WebhookCreations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linecord_webhook_creations_total",
			Help: "Total number of Discord webhooks created",
		},
	)

	// Media re-hosting
	MediaUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linecord_media_uploads_total",
			Help: "Total number of attachment uploads, by outcome",
		},
		[]string{"status"},
	)
)

// Drop reasons
const (
	DropOtherChat   = "other_chat"
	DropNotReady    = "sink_not_ready"
	DropUnresolved  = "unresolved_media"
	DropEmpty       = "empty"
	DropUndelivered = "publish_failed"
)
