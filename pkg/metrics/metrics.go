// pkg/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scout-etl/edge-ingest/pkg/ingest"
)

// Collector owns the operational prometheus metrics on a private registry,
// keeping the process's default registry out of the exported surface.
type Collector struct {
	registry *prometheus.Registry

	filesProcessed *prometheus.CounterVec
	batchDuration  prometheus.Histogram
	breakerState   prometheus.Gauge
	alertsEmitted  *prometheus.CounterVec
	broadcastCycle prometheus.Counter
}

// NewCollector builds and registers the collectors.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		filesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge_ingest",
			Name:      "files_processed_total",
			Help:      "Files processed by terminal outcome.",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edge_ingest",
			Name:      "batch_duration_seconds",
			Help:      "Wall time per processing batch.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edge_ingest",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
		alertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge_ingest",
			Name:      "alerts_emitted_total",
			Help:      "Health alerts emitted by severity.",
		}, []string{"severity"}),
		broadcastCycle: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edge_ingest",
			Name:      "broadcast_cycles_total",
			Help:      "Completed health broadcast cycles.",
		}),
	}

	registry.MustRegister(
		c.filesProcessed,
		c.batchDuration,
		c.breakerState,
		c.alertsEmitted,
		c.broadcastCycle,
	)
	return c
}

// ObserveOutcome counts one terminal file outcome.
func (c *Collector) ObserveOutcome(kind ingest.OutcomeKind) {
	c.filesProcessed.WithLabelValues(string(kind)).Inc()
}

// ObserveBatchDuration records one batch's wall time.
func (c *Collector) ObserveBatchDuration(d time.Duration) {
	c.batchDuration.Observe(d.Seconds())
}

// SetBreakerState maps a breaker state string onto the gauge. Wire it via
// Breaker.OnStateChange.
func (c *Collector) SetBreakerState(state string) {
	switch state {
	case "open":
		c.breakerState.Set(2)
	case "half-open":
		c.breakerState.Set(1)
	default:
		c.breakerState.Set(0)
	}
}

// CountAlert counts one emitted alert.
func (c *Collector) CountAlert(severity string) {
	c.alertsEmitted.WithLabelValues(severity).Inc()
}

// CountBroadcast counts one completed broadcast cycle.
func (c *Collector) CountBroadcast() {
	c.broadcastCycle.Inc()
}

// Handler serves the private registry in prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
