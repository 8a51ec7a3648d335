// Package metrics defines the Prometheus vectors shared across services,
// generalizing the teacher gateway's internal/pkg/metrics beyond order
// placement to cross-service coordination and outbound-call outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestLatency observes handler latency per service+path.
	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dgc_request_latency_seconds",
		Help:    "HTTP handler latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "path"})

	// OutboundCalls counts outbound cross-service calls by collaborator,
	// operation and classified outcome (ANCHORED/RECORDED/SKIPPED/FAILED
	// or ok/error/timeout for primary-path calls).
	OutboundCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dgc_outbound_calls_total",
		Help: "Outbound cross-service calls by collaborator and outcome",
	}, []string{"collaborator", "operation", "outcome"})

	// RiskAlertsEmitted counts edge-triggered risk alerts by target type.
	RiskAlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dgc_risk_alerts_total",
		Help: "Risk alerts emitted by target type",
	}, []string{"target_type"})

	// FreezeActive reports the current marketplace freeze flag as 0/1.
	FreezeActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dgc_marketplace_freeze_active",
		Help: "1 when the marketplace is frozen, 0 otherwise",
	})

	// IdempotencyReplays counts idempotent replays vs fresh executions.
	IdempotencyReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dgc_idempotency_replays_total",
		Help: "Idempotent marketplace requests by outcome (replay/conflict/fresh)",
	}, []string{"action", "outcome"})
)
