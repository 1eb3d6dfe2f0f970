package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Channels are never persisted, so these collectors are the only record of
// how many are live at any moment.
var (
	// ChannelsActive tracks the number of channels with at least one subscriber.
	ChannelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_channels_active",
		Help: "Number of channels with at least one live subscriber",
	})

	// SubscribersActive tracks live subscriptions across all channels.
	SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_subscribers_active",
		Help: "Number of live channel subscriptions",
	})

	// EventsPublished tracks publishes handed to the transport.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_events_published_total",
		Help: "Events published to the transport",
	}, []string{"outcome"}) // outcome: ok, error

	// EventsDelivered tracks events enqueued onto a subscriber queue.
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_events_delivered_total",
		Help: "Events delivered to a subscriber queue",
	})

	// EventsDropped tracks events discarded before delivery.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_events_dropped_total",
		Help: "Events dropped before reaching a subscriber queue",
	}, []string{"reason"}) // reason: malformed, queue_full, emitter_backlog

	// Heartbeats tracks idle keepalives written to clients.
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_heartbeats_total",
		Help: "Heartbeat events written to idle streams",
	})

	// AuthRejected tracks streaming requests refused by the gate.
	AuthRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_auth_rejected_total",
		Help: "Streaming requests rejected by the authorization gate",
	})

	// TransportErrors tracks transport failures absorbed by listeners.
	TransportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_transport_errors_total",
		Help: "Transport errors absorbed by subscription listeners",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
