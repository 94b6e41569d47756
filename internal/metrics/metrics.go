// Package metrics exposes the picking engine's Prometheus metrics.
//
// Counters cover gateway traffic, background fetches and quantity writes.
// Cache hits and dropped background writes show whether prefetching pays off
// and how often a context switch or a local edit outran the network.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements picking.Metrics
type Collector struct {
	gatewayCalls    *prometheus.CounterVec
	backgroundFetch *prometheus.CounterVec
	quantityWrites  *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	droppedWrites   *prometheus.CounterVec
	sessionsOpen    prometheus.Gauge
}

// NewCollector registers every metric with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picking_gateway_calls_total",
			Help: "Calls to the fulfillment backend by operation and result",
		}, []string{"op", "result"}),
		backgroundFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picking_background_fetches_total",
			Help: "Prefetch and refresh loads by kind and result",
		}, []string{"kind", "result"}),
		quantityWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picking_quantity_writes_total",
			Help: "Quantity write attempts pushed to the backend by result",
		}, []string{"result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picking_cache_lookups_total",
			Help: "Operation cache lookups by result",
		}, []string{"result"}),
		droppedWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picking_cache_dropped_writes_total",
			Help: "Background cache writes discarded, by reason",
		}, []string{"reason"}),
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picking_sessions_open",
			Help: "Picking sessions currently open",
		}),
	}
	reg.MustRegister(
		c.gatewayCalls,
		c.backgroundFetch,
		c.quantityWrites,
		c.cacheLookups,
		c.droppedWrites,
		c.sessionsOpen,
	)
	return c
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) CacheHit()  { c.cacheLookups.WithLabelValues("hit").Inc() }
func (c *Collector) CacheMiss() { c.cacheLookups.WithLabelValues("miss").Inc() }

func (c *Collector) WriteDropped(reason string) {
	c.droppedWrites.WithLabelValues(reason).Inc()
}

func (c *Collector) GatewayCall(op string, err error) {
	c.gatewayCalls.WithLabelValues(op, result(err)).Inc()
}

func (c *Collector) BackgroundFetch(kind string, err error) {
	c.backgroundFetch.WithLabelValues(kind, result(err)).Inc()
}

func (c *Collector) QuantityWrite(err error) {
	c.quantityWrites.WithLabelValues(result(err)).Inc()
}

func (c *Collector) SessionOpened() { c.sessionsOpen.Inc() }
func (c *Collector) SessionClosed() { c.sessionsOpen.Dec() }

// Handler serves the metrics of g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
