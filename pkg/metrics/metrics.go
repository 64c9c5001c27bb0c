// Package metrics declares the prometheus collectors of the index subsystem.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var RefDocMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "odm",
	Subsystem: "refdoc",
	Name:      "mutations_total",
}, []string{"op", "result"})

var RefDocCASRetries = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "odm",
	Subsystem: "refdoc",
	Name:      "cas_retries_total",
})

var SyncFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "odm",
	Subsystem: "indexing",
	Name:      "sync_failures_total",
}, []string{"model", "index"})

var SyncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "odm",
	Subsystem: "indexing",
	Name:      "sync_duration_seconds",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
}, []string{"model"})

var Lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "odm",
	Subsystem: "indexing",
	Name:      "lookups_total",
}, []string{"model", "index", "result"})

var StoreOps = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "odm",
	Subsystem: "store",
	Name:      "ops_total",
}, []string{"op", "result"})

// Collectors returns every collector of this package
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RefDocMutations,
		RefDocCASRetries,
		SyncFailures,
		SyncDuration,
		Lookups,
		StoreOps,
	}
}

// Register adds the collectors to reg, ignoring ones already present
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
