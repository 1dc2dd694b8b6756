package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	// Hub metrics
	connectedClients prometheus.Gauge
	messagesRelayed  *prometheus.CounterVec
	invalidMessages  *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec

	// Relay metrics
	relayMessages   *prometheus.CounterVec
	hubPushFailures prometheus.Counter
	persistDuration prometheus.Histogram

	// Producer metrics
	eventsPublished *prometheus.CounterVec
}

// NewCollector creates a Prometheus metrics collector registered on reg.
// A nil reg registers on the default registry served at /metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		connectedClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kanban_hub_connected_clients",
				Help: "Number of live WebSocket connections",
			},
		),
		messagesRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kanban_hub_messages_relayed_total",
				Help: "Total number of envelopes broadcast by the hub",
			},
			[]string{"type"},
		),
		invalidMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kanban_hub_invalid_messages_total",
				Help: "Total number of inbound messages rejected by the hub",
			},
			[]string{"reason"},
		),
		deliveryFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kanban_hub_delivery_failures_total",
				Help: "Total number of per-connection delivery failures",
			},
			[]string{"reason"},
		),
		relayMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kanban_relay_messages_total",
				Help: "Total number of queue messages handled by the relay",
			},
			[]string{"outcome"},
		),
		hubPushFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "kanban_relay_hub_push_failures_total",
				Help: "Total number of failed best-effort pushes to the hub",
			},
		),
		persistDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kanban_relay_persist_duration_seconds",
				Help:    "Activity log write duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kanban_events_published_total",
				Help: "Total number of board events published to the broker",
			},
			[]string{"action", "ok"},
		),
	}
}

// SetConnectedClients sets the live connection gauge
func (c *Collector) SetConnectedClients(count int) {
	c.connectedClients.Set(float64(count))
}

// IncMessagesRelayed counts one broadcast of the given envelope type
func (c *Collector) IncMessagesRelayed(eventType string) {
	c.messagesRelayed.WithLabelValues(eventType).Inc()
}

// IncInvalidMessages counts one rejected inbound message
func (c *Collector) IncInvalidMessages(reason string) {
	c.invalidMessages.WithLabelValues(reason).Inc()
}

// IncDeliveryFailures counts one per-connection delivery failure
func (c *Collector) IncDeliveryFailures(reason string) {
	c.deliveryFailures.WithLabelValues(reason).Inc()
}

// IncRelayMessages counts one queue message by outcome
func (c *Collector) IncRelayMessages(outcome string) {
	c.relayMessages.WithLabelValues(outcome).Inc()
}

// IncHubPushFailures counts one failed push to the hub
func (c *Collector) IncHubPushFailures() {
	c.hubPushFailures.Inc()
}

// ObservePersistDuration records how long an activity log write took
func (c *Collector) ObservePersistDuration(duration time.Duration) {
	c.persistDuration.Observe(duration.Seconds())
}

// IncEventsPublished counts one publish attempt
func (c *Collector) IncEventsPublished(action string, ok bool) {
	c.eventsPublished.WithLabelValues(action, strconv.FormatBool(ok)).Inc()
}
