// Package metrics exposes the engine's self-health counters.
//
// The engine is deliberately quiet when it degrades (a failed collaborator
// call is a skip, not an error), so these counters are the only reliable
// operational signal that detection is still running.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntitiesMonitored tracks how many entities were examined in the most
	// recent monitoring cycle.
	EntitiesMonitored = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vigilsec",
		Name:      "entities_monitored",
		Help:      "Entities examined in the last monitoring cycle.",
	})

	AnomaliesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vigilsec",
		Name:      "anomalies_detected_total",
		Help:      "Individual anomaly findings produced by the detectors.",
	})

	AlertsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigilsec",
		Name:      "alerts_generated_total",
		Help:      "Security alerts created, by severity.",
	}, []string{"severity"})

	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vigilsec",
		Name:      "alerts_suppressed_total",
		Help:      "Alerts dropped by the deduplication rules.",
	})

	ProfilesUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vigilsec",
		Name:      "profiles_updated_total",
		Help:      "Behavior profile refreshes that changed a profile.",
	})

	ActivitiesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vigilsec",
		Name:      "activities_dropped_total",
		Help:      "Malformed activities rejected at ingress.",
	})

	MitigationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigilsec",
		Name:      "mitigations_applied_total",
		Help:      "Automated mitigation actions executed, by action.",
	}, []string{"action"})

	NotificationsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vigilsec",
		Name:      "notifications_requested_total",
		Help:      "Outbound notification requests handed to the dispatcher.",
	})
)
