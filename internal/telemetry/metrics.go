package telemetry

import "github.com/prometheus/client_golang/prometheus"

var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "requests",
		Name:      "total",
		Help:      "Total number of proxied requests by provider and terminal outcome.",
	},
	[]string{"provider", "outcome"},
)

var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "requests",
		Name:      "duration_seconds",
		Help:      "End-to-end proxied request duration in seconds, including failover retries.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
	},
	[]string{"provider"},
)

var AttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "attempts",
		Name:      "total",
		Help:      "Total number of upstream attempts by provider and classifier outcome.",
	},
	[]string{"provider", "outcome"},
)

var KeysOnCooldown = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "keys",
		Name:      "on_cooldown",
		Help:      "Current number of keys flagged in the Cooldown Cache by provider.",
	},
	[]string{"provider"},
)

var KeysBlockedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "keys",
		Name:      "blocked_total",
		Help:      "Total number of keys transitioned to blocked status by provider.",
	},
	[]string{"provider"},
)

var MainCacheRebuildsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "main_cache",
		Name:      "rebuilds_total",
		Help:      "Total number of Main Cache rebuilds by provider.",
	},
	[]string{"provider"},
)

var CleanupDeletedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "cleanup",
		Name:      "deleted_total",
		Help:      "Total number of keys deleted by the cleanup collaborator for exceeding the recovery threshold.",
	},
)

// All returns all gateway-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		AttemptsTotal,
		KeysOnCooldown,
		KeysBlockedTotal,
		MainCacheRebuildsTotal,
		CleanupDeletedTotal,
	}
}
