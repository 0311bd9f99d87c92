// Package metrics exposes Prometheus counters for the reward flows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ShardsCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shards",
			Name:      "ledger_amount_total",
			Help:      "Absolute shard amount written to the ledger by entry type and direction.",
		},
		[]string{"entry_type", "direction"},
	)

	RewardsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shards",
			Name:      "rewards_skipped_total",
			Help:      "Rewards not issued because the user was over quota or the reward already existed.",
		},
		[]string{"reason"},
	)

	VerificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shards",
			Name:      "auto_verification_outcomes_total",
			Help:      "Auto-verification results by outcome.",
		},
		[]string{"outcome"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shards",
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered, by channel.",
		},
		[]string{"channel"},
	)

	AuditMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shards",
			Name:      "audit_balance_mismatches_total",
			Help:      "Users whose cached balance differed from the sum of their ledger entries.",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shards",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served by the ops server.",
		},
		[]string{"method", "path", "status"},
	)
)

// RecordLedger counts a ledger write.
func RecordLedger(entryType string, amount int64) {
	direction := "credit"
	if amount < 0 {
		direction = "debit"
		amount = -amount
	}
	ShardsCredited.WithLabelValues(entryType, direction).Add(float64(amount))
}
