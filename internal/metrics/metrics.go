// Package metrics defines the Prometheus instruments for the decision and
// execution pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsProposed counts accepted rebalance proposals by risk tier.
	DecisionsProposed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowguard",
			Name:      "decisions_proposed_total",
			Help:      "Rebalance decisions accepted into the pending queue.",
		},
		[]string{"risk_tier"},
	)

	// Executions counts execution attempts by terminal outcome.
	Executions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowguard",
			Name:      "executions_total",
			Help:      "Execution attempts by outcome status.",
		},
		[]string{"status"},
	)

	// ExecutionSlippageBps observes the realized slippage of executed swaps.
	ExecutionSlippageBps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "flowguard",
			Name:      "execution_slippage_bps",
			Help:      "Realized swap slippage in basis points.",
			Buckets:   []float64{1, 5, 10, 25, 50, 75, 100, 150, 250},
		},
	)

	// PolicyViolations counts rejected operations by violated rule.
	PolicyViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowguard",
			Name:      "policy_violations_total",
			Help:      "Operations rejected by a policy rule.",
		},
		[]string{"rule"},
	)

	// Approvals counts human approval verdicts.
	Approvals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowguard",
			Name:      "approvals_total",
			Help:      "Human approval verdicts on pending decisions.",
		},
		[]string{"verdict"},
	)

	// AuditEventsAppended counts ledger appends by event type.
	AuditEventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowguard",
			Name:      "audit_events_appended_total",
			Help:      "Events appended to the compliance ledger.",
		},
		[]string{"event_type"},
	)

	// AuditEventsArchived counts ledger events exported to blob storage.
	AuditEventsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowguard",
			Name:      "audit_events_archived_total",
			Help:      "Ledger events exported to the compliance archive.",
		},
	)
)
