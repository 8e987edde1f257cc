package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	grantCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seatpool",
		Subsystem: "ledger",
		Name:      "grants_total",
		Help:      "The total number of seat grant attempts by result",
	}, []string{"result"})

	releaseCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seatpool",
		Subsystem: "ledger",
		Name:      "releases_total",
		Help:      "The total number of released seats by reason and replace policy",
	}, []string{"reason", "burned"})

	expiredPoolCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seatpool",
		Subsystem: "registry",
		Name:      "pools_expired_total",
		Help:      "The total number of pools moved to expired",
	})

	resyncRunCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seatpool",
		Subsystem: "resync",
		Name:      "runs_total",
		Help:      "The total number of resync runs by outcome",
	}, []string{"outcome"})

	resyncCorrectionCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seatpool",
		Subsystem: "resync",
		Name:      "corrections_total",
		Help:      "The total number of used counters corrected by resync",
	})

	resyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "seatpool",
		Subsystem: "resync",
		Name:      "duration_seconds",
		Help:      "Resync run duration",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)
