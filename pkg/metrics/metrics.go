// Package metrics exposes the daemon's Prometheus metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the collector and portal.
type Metrics struct {
	// Counters
	LoginsTotal     prometheus.CounterVec
	DayFetchesTotal prometheus.CounterVec
	CyclesTotal     prometheus.CounterVec

	// Gauges
	LatestSampleAge prometheus.Gauge
	SamplesStored   prometheus.GaugeVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Init initializes the global Prometheus metrics. Safe to call more than
// once; the first call wins.
func Init() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			LoginsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "eirsights_logins_total",
					Help: "Portal login attempts by outcome",
				},
				[]string{"status"},
			),
			DayFetchesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "eirsights_day_fetches_total",
					Help: "Per-day usage fetches by outcome (ok/empty)",
				},
				[]string{"status"},
			),
			CyclesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "eirsights_collection_cycles_total",
					Help: "Collection cycles by outcome (ok/throttled/error)",
				},
				[]string{"status"},
			),
			LatestSampleAge: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "eirsights_latest_sample_age_seconds",
					Help: "Age of the newest stored statistic window",
				},
			),
			SamplesStored: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "eirsights_samples_stored",
					Help: "Statistic windows written in the last cycle",
				},
				[]string{"series"},
			),
		}
	})
	return globalMetrics
}
