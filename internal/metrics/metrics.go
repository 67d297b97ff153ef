// Package metrics holds the Prometheus collectors shared by the lock guard,
// the store router and the background jobs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireCounter tracks lock acquisition attempts by result (acquired, rejected).
	AcquireCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dslock_acquire_total",
		Help: "Total number of lock acquisition attempts",
	}, []string{"result"})
	// RejectCounter tracks rejections by policy.
	RejectCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dslock_reject_total",
		Help: "Total number of rejected guarded calls",
	}, []string{"policy"})
	// ReleaseCounter tracks releases by reason (completed, failed, panic).
	ReleaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dslock_release_total",
		Help: "Total number of lock releases",
	}, []string{"reason"})
	// GuardDuration observes the wall time of guarded calls, lock wait included.
	GuardDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dslock_guard_duration_seconds",
		Help:    "Duration of guarded calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	// StoreCommandCounter tracks commands sent to each pool.
	StoreCommandCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dslock_store_commands_total",
		Help: "Total number of store commands by pool",
	}, []string{"pool"})
	// StoreFailureCounter tracks absorbed store failures.
	StoreFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dslock_store_failures_total",
		Help: "Total number of failed store commands",
	}, []string{"pool", "command"})
	// BreakerStateGauge reports the circuit breaker state per pool (0 closed, 1 half-open, 2 open).
	BreakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dslock_store_breaker_state",
		Help: "Circuit breaker state per store pool",
	}, []string{"pool"})
	// ActiveLeasesGauge reports the number of live lock keys seen by the last audit.
	ActiveLeasesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dslock_active_leases",
		Help: "Number of live lock leases in the store",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterMetrics registers all dslock collectors on the provided registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		AcquireCounter,
		RejectCounter,
		ReleaseCounter,
		GuardDuration,
		StoreCommandCounter,
		StoreFailureCounter,
		BreakerStateGauge,
		ActiveLeasesGauge,
	)
}
