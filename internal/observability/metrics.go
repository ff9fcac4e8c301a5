// Package observability bundles Prometheus metrics for the consumer tier and
// the statistics query path.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the service's Prometheus metrics and provides the HTTP
// handler to expose them.
type Collector struct {
	gatherer prometheus.Gatherer

	// EventsProcessed counts fully-applied position change events per shard.
	EventsProcessed *prometheus.CounterVec

	// EventsDiscarded counts events dropped before application, labeled by
	// reason (duplicate, unhealthy).
	EventsDiscarded *prometheus.CounterVec

	// PairUpdates counts accumulator admit/retract operations per shard.
	PairUpdates *prometheus.CounterVec

	// LiveEntities tracks the size of each shard's position table.
	LiveEntities *prometheus.GaugeVec

	// UnhealthyShards is the number of shards currently excluded from
	// queries pending a reseed.
	UnhealthyShards prometheus.Gauge

	// QueryDuration measures statistics query latency in seconds.
	QueryDuration prometheus.Histogram
}

// NewCollector registers the service metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geostats_events_processed_total",
			Help: "Position change events fully applied, labeled by shard.",
		}, []string{"shard"}),
		EventsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geostats_events_discarded_total",
			Help: "Position change events discarded before application, labeled by shard and reason.",
		}, []string{"shard", "reason"}),
		PairUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geostats_pair_updates_total",
			Help: "Accumulator updates, labeled by shard and operation (admit or retract).",
		}, []string{"shard", "op"}),
		LiveEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "geostats_live_entities",
			Help: "Entities currently tracked in each shard's position table.",
		}, []string{"shard"}),
		UnhealthyShards: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geostats_unhealthy_shards",
			Help: "Shards excluded from queries pending a reseed.",
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "geostats_query_duration_seconds",
			Help:    "Statistics query latency in seconds.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	collectors := []prometheus.Collector{
		c.EventsProcessed, c.EventsDiscarded, c.PairUpdates,
		c.LiveEntities, c.UnhealthyShards, c.QueryDuration,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return c, nil
}

// Handler returns the HTTP handler exposing the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
