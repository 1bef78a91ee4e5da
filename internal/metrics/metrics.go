// Package metrics holds the prometheus counters for the cycle count lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "inventory"
	subsystem = "cycle_count"
)

var (
	// ItemsGenerated counts items placed into batches.
	// Labels: method (random, abc, location, category, manual)
	ItemsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "items_generated_total",
		Help:      "Items placed into count batches",
	}, []string{"method"})

	// CountsSubmitted counts recorded results.
	// Labels: discrepancy_type (none, missing, extra, quantity, location, condition)
	CountsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "counts_submitted_total",
		Help:      "Count results recorded",
	}, []string{"discrepancy_type"})

	ItemsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "items_skipped_total",
		Help:      "Items resolved without a count",
	})

	BatchesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "batches_completed_total",
		Help:      "Batches whose items were all counted or skipped",
	})

	BatchesCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "batches_cancelled_total",
		Help:      "Batches cancelled before completion",
	})

	// AdjustmentsApproved counts approvals.
	// Labels: adjustment_type (quantity, location, condition, status)
	AdjustmentsApproved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "adjustments_approved_total",
		Help:      "Adjustments approved on discrepant results",
	}, []string{"adjustment_type"})

	// NotificationFailures counts lifecycle events that could not be delivered.
	// Labels: event_type
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "notification_failures_total",
		Help:      "Lifecycle events the notifier failed to deliver",
	}, []string{"event_type"})
)
