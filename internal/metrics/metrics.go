// Package metrics exposes the chat engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_engine"

var (
	// OnlineUsers is the size of the presence set.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "presence",
		Name:      "online_users",
		Help:      "Participants currently present in the channel",
	})

	// MessagesCounted counts messages admitted to the stats, deduped by id.
	// Labels: origin (inbound, outbound)
	MessagesCounted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "presence",
		Name:      "messages_total",
		Help:      "Messages counted by the stats aggregator",
	}, []string{"origin"})

	// FilterDrops counts inbound messages dropped by the filter.
	// Labels: rule (blocked_sender, spam, link, caps)
	FilterDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "filter",
		Name:      "drops_total",
		Help:      "Inbound messages dropped by the filter",
	}, []string{"rule"})

	// SendOutcomes counts outbound sends by result.
	// Labels: result (sent, failed, rate_limited, blocked, empty)
	SendOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbound",
		Name:      "sends_total",
		Help:      "Outbound send attempts by result",
	}, []string{"result"})

	// SendLatency measures dispatch-to-acknowledgement time.
	SendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outbound",
		Name:      "ack_latency_seconds",
		Help:      "Time from dispatch to transport acknowledgement",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// ModerationActions counts moderation changes.
	// Labels: action, origin (local, remote, expiry)
	ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "moderation",
		Name:      "actions_total",
		Help:      "Moderation changes applied to the blocked set",
	}, []string{"action", "origin"})

	// TransportEvents counts normalized transport events.
	// Labels: driver, type
	TransportEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "events_total",
		Help:      "Events emitted by the transport adapter",
	}, []string{"driver", "type"})

	// TransportDisconnects counts lost connections.
	// Labels: driver
	TransportDisconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "disconnects_total",
		Help:      "Transport connections lost",
	}, []string{"driver"})

	// WSClients is the number of connected UI websocket clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "clients",
		Help:      "Connected UI websocket clients",
	})
)
