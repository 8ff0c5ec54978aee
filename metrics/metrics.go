// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchCycles counts completed refresh cycles.
	FetchCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calfeed_fetch_cycles_total",
		Help: "Number of completed refresh cycles.",
	})

	// FetchFailures counts identities whose refresh failed on all sources.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calfeed_fetch_failures_total",
		Help: "Number of identity refreshes that failed on every source.",
	}, []string{"identity"})

	// LastCycleSeconds is the duration of the most recent refresh cycle.
	LastCycleSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calfeed_last_cycle_seconds",
		Help: "Duration of the most recent refresh cycle in seconds.",
	})
)
