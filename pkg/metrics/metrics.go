// Package metrics holds the Prometheus collectors shared by the settlement services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outbox_published_total",
		Help: "Outbox events handed to a transport.",
	}, []string{"aggregate", "type"})

	OutboxFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outbox_failed_total",
		Help: "Outbox dispatch attempts that returned an error.",
	}, []string{"aggregate", "type"})

	Dispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_dispatch_total",
		Help: "Channel messages handled by the order dispatcher.",
	}, []string{"topic", "outcome"})

	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_gateway_calls_total",
		Help: "Calls to the payment gateway by operation and outcome.",
	}, []string{"op", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_gateway_latency_seconds",
		Help:    "Payment gateway round-trip latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	PaymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payment_transitions_total",
		Help: "Payment ledger status changes.",
	}, []string{"status"})
)
