// Package metrics exposes Prometheus instruments for engine operations.
//
// Instruments are registered with the default registry on package load and
// are safe to update from any goroutine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FactOps counts working-memory operations by kind and result.
	FactOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainer_fact_ops_total",
		Help: "Working memory operations by kind (assert, retract, modify) and result",
	}, []string{"op", "result"})

	// GoalEvents counts goal lifecycle events: generated, deduplicated,
	// self_support, asserted, retracted, collapsed.
	GoalEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainer_goal_events_total",
		Help: "Goal synthesis and goal queue events by kind",
	}, []string{"event"})

	// JoinsPrimed counts joins primed during incremental reset by source.
	JoinsPrimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainer_joins_primed_total",
		Help: "Joins primed during incremental reset by source (sibling, parent, root)",
	}, []string{"source"})

	// RuleFirings counts fired activations.
	RuleFirings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainer_rule_firings_total",
		Help: "Total rule activations fired",
	})

	// ResetDuration tracks incremental reset latency.
	ResetDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainer_incremental_reset_duration_seconds",
		Help:    "Incremental reset duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~400ms
	})

	// SystemErrors counts invariant violations that halted an engine.
	SystemErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainer_system_errors_total",
		Help: "Invariant violations by code",
	}, []string{"code"})
)

// Result labels for FactOps.
const (
	ResultOK        = "ok"
	ResultDuplicate = "duplicate"
	ResultError     = "error"
)
