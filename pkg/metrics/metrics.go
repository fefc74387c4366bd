package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of pending requests awaiting replay.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_queue_depth",
			Help: "Number of queued requests awaiting replay",
		},
	)

	// ReplayedRequests counts replay outcomes by result (success|rejected|network_error).
	ReplayedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_replayed_requests_total",
			Help: "Total number of replay attempts by outcome",
		},
		[]string{"result"},
	)

	// ReplayRetries counts retries scheduled for rejected queue entries.
	ReplayRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_replay_retries_total",
			Help: "Total number of replay retries scheduled",
		},
	)

	// DeadLetters counts queue entries moved to the dead-letter table by reason
	// (exhausted|corrupted).
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_dead_letters_total",
			Help: "Total number of queue entries moved to the dead-letter table",
		},
		[]string{"reason"},
	)

	// ReplayDuration measures individual replay round-trip latency.
	ReplayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "offline_replay_duration_seconds",
			Help:    "Replay request latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// FallbackReads counts reads served by each tier (remote|cache|local|empty).
	FallbackReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_reads_total",
			Help: "Total number of reads by serving tier",
		},
		[]string{"tier"},
	)
)
