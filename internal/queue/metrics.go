package queue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// activeLanes is written under the shard lock.
var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switchboard",
			Subsystem: "queue",
			Name:      "submissions_total",
			Help:      "Jobs accepted for execution.",
		},
		[]string{"shard"},
	)

	queueFullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switchboard",
			Subsystem: "queue",
			Name:      "queue_full_total",
			Help:      "Enqueue attempts that timed out on a full lane.",
		},
		[]string{"shard"},
	)

	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switchboard",
			Subsystem: "queue",
			Name:      "failures_total",
			Help:      "Jobs that failed after all attempts or were skipped.",
		},
		[]string{"shard"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "switchboard",
			Subsystem: "queue",
			Name:      "run_duration_seconds",
			Help:      "Job execution latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"shard"},
	)

	activeLanes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "switchboard",
			Subsystem: "queue",
			Name:      "active_lanes",
			Help:      "Keys with queued or running jobs, per shard.",
		},
		[]string{"shard"},
	)
)

func labelFor(i int) string { return strconv.Itoa(i) }
