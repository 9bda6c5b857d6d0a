// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Trigger outcomes.
const (
	OutcomeFired     = "fired"
	OutcomeRepeat    = "skipped_repeat"
	OutcomeCondition = "skipped_condition"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

var (
	// TriggerRulesTotal counts rule evaluations by outcome.
	TriggerRulesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coach",
			Name:      "trigger_rules_total",
			Help:      "Trigger rule evaluations by outcome",
		},
		[]string{"outcome"},
	)

	// EventsTotal counts ingested user events.
	EventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coach",
			Name:      "events_total",
			Help:      "User events ingested",
		},
	)

	// SuggestionsTotal counts suggestion requests by the mode that served them.
	SuggestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coach",
			Name:      "suggestions_total",
			Help:      "Suggestion requests by serving mode",
		},
		[]string{"mode"},
	)

	// GenerativeFallbacksTotal counts generative failures that fell back to rules.
	GenerativeFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coach",
			Name:      "generative_fallbacks_total",
			Help:      "Generative suggestion failures that fell back to rule-based tips",
		},
	)

	// OutboxPublishedTotal counts outbox records by publish result.
	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coach",
			Name:      "outbox_records_total",
			Help:      "Outbox records processed by result",
		},
		[]string{"result"},
	)
)
