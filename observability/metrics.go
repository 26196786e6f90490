package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FactoryMetrics records token factory operation activity for scraping.
type FactoryMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	factoryMetricsOnce sync.Once
	factoryRegistry    *FactoryMetrics
)

// Factory returns the lazily-initialised factory metrics registry.
func Factory() *FactoryMetrics {
	factoryMetricsOnce.Do(func() {
		factoryRegistry = &FactoryMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "syforge",
				Subsystem: "factory",
				Name:      "operations_total",
				Help:      "Total token factory operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "syforge",
				Subsystem: "factory",
				Name:      "failures_total",
				Help:      "Total token factory failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "syforge",
				Subsystem: "factory",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for token factory operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(factoryRegistry.operations, factoryRegistry.failures, factoryRegistry.latency)
	})
	return factoryRegistry
}

// ObserveOperation records a completed operation with its outcome.
func (m *FactoryMetrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.failures.WithLabelValues(operation, reasonLabel(err)).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func reasonLabel(err error) string {
	if err == nil {
		return ""
	}
	// Keep cardinality bounded: the sentinel text is "pkg: reason" and any
	// wrapped detail follows after a second colon.
	msg := err.Error()
	colons := 0
	for i := 0; i < len(msg); i++ {
		if msg[i] == ':' {
			colons++
			if colons == 2 {
				return msg[:i]
			}
		}
	}
	return msg
}
