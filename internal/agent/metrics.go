package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomePanic     = "panic"
	outcomeCancelled = "cancelled"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switchboard",
			Subsystem: "router",
			Name:      "dispatch_total",
			Help:      "Messages dispatched, by agent and outcome.",
		},
		[]string{"agent", "outcome"},
	)

	processDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "switchboard",
			Subsystem: "router",
			Name:      "process_duration_seconds",
			Help:      "Agent Process latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent"},
	)
)
