// Package metrics registers the coordinator's Prometheus series,
// grounded on contract-data-processor/go/server/prometheus_metrics.go's
// promauto package-level-var pattern, generalized from one ledger
// pipeline's counters to the swap coordinator's phases and per-ledger
// adapters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SwapsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_swaps_created_total",
		Help: "Total number of swaps created",
	})

	SwapsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_swaps_completed_total",
		Help: "Total number of swaps that reached the completed phase",
	})

	SwapsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_swaps_expired_total",
		Help: "Total number of swaps that reached the expired phase",
	})

	SwapsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_swaps_failed_total",
		Help: "Total number of swaps that reached the failed phase",
	})

	SwapPhaseGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resolver_swaps_in_phase",
		Help: "Current number of swaps in each phase",
	}, []string{"phase"})

	EventsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_events_ingested_total",
		Help: "Total number of escrow events ingested, by ledger and kind",
	}, []string{"ledger", "kind"})

	EventsDuplicateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_events_duplicate_total",
		Help: "Total number of duplicate escrow events discarded at the dedup cache, by ledger",
	}, []string{"ledger"})

	CursorHeightGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resolver_cursor_height",
		Help: "Last processed block/checkpoint height, by ledger",
	}, []string{"ledger"})

	SchedulerTasksRunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_scheduler_tasks_run_total",
		Help: "Total number of scheduler tasks executed, by outcome",
	}, []string{"outcome"})

	SchedulerQueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resolver_scheduler_queue_depth",
		Help: "Current number of tasks pending in the scheduler's worker pool",
	})

	ChainCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resolver_chain_call_duration_seconds",
		Help:    "Latency of chain adapter calls, by ledger and operation",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"ledger", "operation"})

	ChainCallErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_chain_call_errors_total",
		Help: "Total number of chain adapter call errors, by ledger, operation, and kind",
	}, []string{"ledger", "operation", "kind"})

	AmbiguousPairingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_ambiguous_pairings_total",
		Help: "Total number of digest collisions requiring operator intervention",
	})

	IncidentsOpenGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resolver_incidents_open",
		Help: "Current number of open operator incidents",
	})
)
