package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "babyguess"

var (
	// Votes counts vote submissions by outcome (accepted, duplicate, closed, mismatch, rejected).
	Votes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "game",
		Name:      "votes_total",
		Help:      "Vote submissions by outcome",
	}, []string{"result"})

	// Settlements counts rounds settled, labelled by what triggered them.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "game",
		Name:      "settlements_total",
		Help:      "Round settlements by trigger",
	}, []string{"trigger"})

	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "game",
		Name:      "round_duration_seconds",
		Help:      "Time between a round opening and its settlement",
		Buckets:   prometheus.LinearBuckets(5, 5, 12),
	})

	Games = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "game",
		Name:      "lifecycle_total",
		Help:      "Game lifecycle transitions (started, finished, reset)",
	}, []string{"transition"})

	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "retries_total",
		Help:      "Transient key-value store errors that were retried",
	}, []string{"op"})

	StoreUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "unavailable_total",
		Help:      "Store operations that exhausted their retries",
	}, []string{"op"})

	// DataQuality counts records dropped or repaired because they could not be decoded.
	DataQuality = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "data_quality_events_total",
		Help:      "Undecodable or malformed records encountered",
	}, []string{"kind"})

	BroadcastFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "failures_total",
		Help:      "Failed event publishes per sink",
	}, []string{"sink"})
)
