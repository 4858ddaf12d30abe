// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mutations counts committed and rejected ledger mutations by operation and result code.
var Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "splitledger",
	Subsystem: "ledger",
	Name:      "mutations_total",
	Help:      "Ledger mutations by operation and outcome code (ok on success).",
}, []string{"operation", "code"})

// MutationDuration observes how long a mutation transaction took, retries included.
var MutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "splitledger",
	Subsystem: "ledger",
	Name:      "mutation_duration_seconds",
	Help:      "Latency of ledger mutation transactions.",
	Buckets:   prometheus.DefBuckets,
}, []string{"operation"})

// TxRetries counts write transactions re-run because the database was busy.
var TxRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "splitledger",
	Subsystem: "storage",
	Name:      "tx_retries_total",
	Help:      "Write transactions retried after SQLite reported lock contention.",
})

// NotificationsPublished counts outbox events written by category.
var NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "splitledger",
	Subsystem: "notify",
	Name:      "events_published_total",
	Help:      "Change notification events appended to the outbox.",
}, []string{"category"})

// NotificationsDelivered counts events handed to live subscribers.
var NotificationsDelivered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "splitledger",
	Subsystem: "notify",
	Name:      "events_delivered_total",
	Help:      "Change notification events delivered to subscribers.",
})

// SubscribersDropped counts subscribers closed because they fell behind.
var SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "splitledger",
	Subsystem: "notify",
	Name:      "subscribers_dropped_total",
	Help:      "Subscribers disconnected because their buffer overflowed.",
})

// Subscribers tracks currently connected notification subscribers.
var Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "splitledger",
	Subsystem: "notify",
	Name:      "subscribers",
	Help:      "Currently connected notification subscribers.",
})

// MaintenanceRemoved counts rows removed by scheduled maintenance jobs.
var MaintenanceRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "splitledger",
	Subsystem: "maintenance",
	Name:      "rows_removed_total",
	Help:      "Rows deleted by maintenance jobs.",
}, []string{"job"})
