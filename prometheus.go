package dia

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector adapts a Metrics instance to a prometheus.Collector so
// an embedding process can export engine counters on its existing
// registry.
type MetricsCollector struct {
	metrics *Metrics

	getOps           *prometheus.Desc
	insertOps        *prometheus.Desc
	getHits          *prometheus.Desc
	insertCollisions *prometheus.Desc
	batches          *prometheus.Desc
	batchedOps       *prometheus.Desc
	coalescedOps     *prometheus.Desc
	coroutineSteps   *prometheus.Desc
	enqueueRetries   *prometheus.Desc
	maxQueueDepth    *prometheus.Desc
}

// NewMetricsCollector creates a collector over m.
func NewMetricsCollector(m *Metrics) *MetricsCollector {
	return &MetricsCollector{
		metrics: m,
		getOps: prometheus.NewDesc("dia_get_ops_total",
			"Total get probes served", nil, nil),
		insertOps: prometheus.NewDesc("dia_insert_ops_total",
			"Total insert probes served", nil, nil),
		getHits: prometheus.NewDesc("dia_get_hits_total",
			"Gets that resolved an OID", nil, nil),
		insertCollisions: prometheus.NewDesc("dia_insert_collisions_total",
			"Inserts that lost to an existing key", nil, nil),
		batches: prometheus.NewDesc("dia_batches_total",
			"Handler iterations that served work", nil, nil),
		batchedOps: prometheus.NewDesc("dia_batched_ops_total",
			"Requests served through batch handlers", nil, nil),
		coalescedOps: prometheus.NewDesc("dia_coalesced_ops_total",
			"Requests that shared a key with an earlier request in their batch", nil, nil),
		coroutineSteps: prometheus.NewDesc("dia_coroutine_steps_total",
			"Total coroutine advances", nil, nil),
		enqueueRetries: prometheus.NewDesc("dia_enqueue_retries_total",
			"Failed enqueue attempts due to a full ring", nil, nil),
		maxQueueDepth: prometheus.NewDesc("dia_queue_depth_high_water",
			"High-water request queue depth across all rings", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.getOps
	ch <- c.insertOps
	ch <- c.getHits
	ch <- c.insertCollisions
	ch <- c.batches
	ch <- c.batchedOps
	ch <- c.coalescedOps
	ch <- c.coroutineSteps
	ch <- c.enqueueRetries
	ch <- c.maxQueueDepth
}

// Collect implements prometheus.Collector
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.getOps, prometheus.CounterValue, float64(s.GetOps))
	ch <- prometheus.MustNewConstMetric(c.insertOps, prometheus.CounterValue, float64(s.InsertOps))
	ch <- prometheus.MustNewConstMetric(c.getHits, prometheus.CounterValue, float64(s.GetHits))
	ch <- prometheus.MustNewConstMetric(c.insertCollisions, prometheus.CounterValue, float64(s.InsertCollisions))
	ch <- prometheus.MustNewConstMetric(c.batches, prometheus.CounterValue, float64(s.Batches))
	ch <- prometheus.MustNewConstMetric(c.batchedOps, prometheus.CounterValue, float64(s.BatchedOps))
	ch <- prometheus.MustNewConstMetric(c.coalescedOps, prometheus.CounterValue, float64(s.CoalescedOps))
	ch <- prometheus.MustNewConstMetric(c.coroutineSteps, prometheus.CounterValue, float64(s.CoroutineSteps))
	ch <- prometheus.MustNewConstMetric(c.enqueueRetries, prometheus.CounterValue, float64(s.EnqueueRetries))
	ch <- prometheus.MustNewConstMetric(c.maxQueueDepth, prometheus.GaugeValue, float64(s.MaxQueueDepth))
}
