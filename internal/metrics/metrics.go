package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide instrumentation. Registered on the default registry and
// served by the admin mux at /metrics.
var (
	EnvelopesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowdesk_envelopes_published_total",
		Help: "Metric envelopes handed to the subscription hub, per symbol.",
	}, []string{"symbol"})

	BookGaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowdesk_book_gaps_total",
		Help: "Depth diff sequence gaps forcing a resync, per symbol.",
	}, []string{"symbol"})

	SubscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdesk_subscriber_drops_total",
		Help: "Envelopes dropped due to a full subscriber queue.",
	})

	SubscriberCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowdesk_subscriber_closes_total",
		Help: "Subscriptions force-closed after exceeding the drop limit.",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowdesk_subscribers",
		Help: "Currently registered subscriptions.",
	})

	OiPollFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowdesk_oi_poll_failures_total",
		Help: "Failed open-interest polls, per symbol.",
	}, []string{"symbol"})

	StreamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowdesk_stream_reconnects_total",
		Help: "Exchange stream reconnect attempts, per stream kind.",
	}, []string{"kind"})

	TradesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowdesk_trades_ingested_total",
		Help: "Aggressive trades ingested, per symbol.",
	}, []string{"symbol"})
)
