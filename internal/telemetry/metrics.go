package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики очереди и воркера. Экспортируются через /metrics.
var (
	EventsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agents_events_enqueued_total",
		Help: "Total number of events inserted into the queue.",
	}, []string{"event_type"})

	EventsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agents_events_claimed_total",
		Help: "Total number of successful claims.",
	})

	EventsDone = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agents_events_done_total",
		Help: "Total number of events finished successfully.",
	}, []string{"event_type"})

	EventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agents_events_failed_total",
		Help: "Total number of failed processing attempts, labelled by whether the failure was terminal.",
	}, []string{"event_type", "terminal"})

	EmptyPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agents_empty_polls_total",
		Help: "Total number of poll cycles that found no claimable event.",
	})

	LockClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agents_lock_claims_total",
		Help: "Total number of idempotency lock claims, labelled by trigger and outcome.",
	}, []string{"trigger", "granted"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agents_dispatch_duration_seconds",
		Help:    "Handler fan-out duration per event type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})

	LoopErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agents_loop_errors_total",
		Help: "Total number of loop-level errors (store failures, rollbacks).",
	})
)
