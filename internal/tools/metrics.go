package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvocationsTotal counts tool calls.
	// Labels: tool, outcome (success or a Failure value)
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askd",
			Subsystem: "tools",
			Name:      "invocations_total",
			Help:      "Total number of tool backend calls by outcome",
		},
		[]string{"tool", "outcome"},
	)

	// InvocationDuration tracks tool call latency.
	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "askd",
			Subsystem: "tools",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of tool backend calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"tool"},
	)
)

func outcome(r Result) string {
	if r.Success {
		return "success"
	}
	return string(r.Failure)
}
