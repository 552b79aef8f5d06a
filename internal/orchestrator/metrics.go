package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for completed turns.
const (
	OutcomeAnswered = "answered"
	OutcomeFallback = "fallback"
	OutcomePartial  = "partial"
)

var (
	// TurnsTotal counts completed turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askd",
			Subsystem: "turns",
			Name:      "total",
			Help:      "Completed turns by outcome",
		},
		[]string{"outcome"},
	)

	// TurnDuration observes end-to-end turn latency.
	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "askd",
			Subsystem: "turns",
			Name:      "duration_seconds",
			Help:      "End-to-end turn latency",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
)
