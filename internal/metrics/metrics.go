// Package metrics exposes Prometheus instrumentation for the control loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepilot_polls_total",
		Help: "Total number of successful parameter poll cycles.",
	})

	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepilot_poll_errors_total",
		Help: "Total number of poll cycles skipped due to Target errors.",
	})

	PollDrift = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepilot_poll_drift_total",
		Help: "Total number of poll cycles that overran the target interval.",
	})

	RuleEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepilot_rule_evaluations_total",
		Help: "Total number of snapshot evaluations performed by the rule engine.",
	})

	RuleTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepilot_rule_triggers_total",
		Help: "Total number of rule firings, labelled by rule ID.",
	}, []string{"rule_id"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepilot_actions_executed_total",
		Help: "Total number of actions executed, labelled by type and status.",
	}, []string{"action_type", "status"})

	SweepWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepilot_sweep_writes_total",
		Help: "Total number of parameter writes emitted by sweeps, labelled by parameter class.",
	}, []string{"class"})

	ActiveSweeps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livepilot_active_sweeps",
		Help: "Number of currently active sweep workers.",
	})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livepilot_evaluation_duration_ms",
		Help:    "Rule evaluation latency per snapshot in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
	})
)
