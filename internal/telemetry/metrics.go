package telemetry

import "github.com/prometheus/client_golang/prometheus"

var SyncPushOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tasksync",
		Subsystem: "sync",
		Name:      "push_operations_total",
		Help:      "Total number of push operations processed, by outcome.",
	},
	[]string{"outcome"}, // accepted, rejected, conflict
)

var SyncConflictsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tasksync",
		Subsystem: "sync",
		Name:      "conflicts_total",
		Help:      "Total number of conflicts detected during push, by reason.",
	},
	[]string{"reason"}, // concurrent_edit, delete_edit
)

var SyncPullRowsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tasksync",
		Subsystem: "sync",
		Name:      "pull_rows_total",
		Help:      "Total number of rows returned across all pull requests.",
	},
)

var OAuthOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tasksync",
		Subsystem: "oauth",
		Name:      "outcomes_total",
		Help:      "Total number of OAuth callback outcomes, by provider and outcome.",
	},
	[]string{"provider", "outcome"}, // success, error
)

var RateLimitRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tasksync",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total number of requests rejected by the rate limiter, by path.",
	},
	[]string{"path"},
)

var RateLimitEscalationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tasksync",
		Subsystem: "ratelimit",
		Name:      "escalations_total",
		Help:      "Total number of identities escalated as potential brute-force.",
	},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tasksync",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route", "status"},
)

var CleanupRowsDeletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tasksync",
		Subsystem: "cleanup",
		Name:      "rows_deleted_total",
		Help:      "Total number of rows deleted by the scheduled cleanup job, by pass.",
	},
	[]string{"pass"}, // tombstones, conflicts, devices
)

// All returns every tasksync-specific metric for registration with the
// Prometheus registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SyncPushOperationsTotal,
		SyncConflictsTotal,
		SyncPullRowsTotal,
		OAuthOutcomesTotal,
		RateLimitRejectionsTotal,
		RateLimitEscalationsTotal,
		HTTPRequestDuration,
		CleanupRowsDeletedTotal,
	}
}
