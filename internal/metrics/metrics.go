// Package metrics holds the Prometheus instruments of the node.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the node's instruments, registered on one registry so
// tests can use isolated registries.
type Set struct {
	Registry *prometheus.Registry

	Cycles             *prometheus.CounterVec
	Messages           *prometheus.CounterVec
	ProtocolViolations prometheus.Counter
	Verifications      *prometheus.CounterVec
	ReadingsPublished  *prometheus.CounterVec
	ReadingsVerified   prometheus.Counter
	PeersSubscribed    prometheus.Gauge
}

// New creates a Set on a fresh registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Set{
		Registry: reg,
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "reconcile_cycles_total",
			Help:      "Reconciliation cycles run, by channel.",
		}, []string{"channel"}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "bus_messages_total",
			Help:      "Bus messages dispatched, by topic.",
		}, []string{"topic"}),
		ProtocolViolations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "protocol_violations_total",
			Help:      "Malformed payloads, unknown topics and unmatched proof responses dropped.",
		}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "peer_verifications_total",
			Help:      "Peer verification outcomes.",
		}, []string{"result"}),
		ReadingsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "readings_published_total",
			Help:      "Readings published, by plane.",
		}, []string{"plane"}),
		ReadingsVerified: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "readings_verified_total",
			Help:      "Readings confirmed on both planes.",
		}),
		PeersSubscribed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "edge",
			Name:      "peers_subscribed",
			Help:      "Peers admitted to the local stream.",
		}),
	}
}
