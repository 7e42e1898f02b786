package dia

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the probe latency histogram buckets in
// nanoseconds, from 100ns to 10ms with logarithmic spacing. Index probes
// are memory-bound, so the interesting range sits well below a
// millisecond.
var LatencyBuckets = []uint64{
	100,
	1_000,      // 1us
	10_000,     // 10us
	100_000,    // 100us
	1_000_000,  // 1ms
	10_000_000, // 10ms
}

const numLatencyBuckets = 6

// Metrics tracks operational statistics for an engine. It implements
// Observer; all fields are atomics and safe to read at any time.
type Metrics struct {
	// Probe counters, one tick per served request (elided probes
	// included)
	GetOps    atomic.Uint64 // Total get probes served
	InsertOps atomic.Uint64 // Total insert probes served

	// Outcome counters
	GetHits          atomic.Uint64 // Gets that resolved an OID
	InsertCollisions atomic.Uint64 // Inserts that lost to an existing key

	// Batching statistics
	Batches        atomic.Uint64 // Handler iterations that served work
	BatchedOps     atomic.Uint64 // Requests served through batch handlers
	CoalescedOps   atomic.Uint64 // Requests that shared a key with an earlier request in their batch
	CoroutineSteps atomic.Uint64 // Total coroutine advances

	// Queue statistics
	EnqueueRetries atomic.Uint64 // Failed enqueue attempts (ring full)
	MaxQueueDepth  atomic.Uint32 // High-water mark across all rings

	// Latency histogram (non-cumulative counts); bucket[i] counts probes
	// with latency in (LatencyBuckets[i-1], LatencyBuckets[i]], and the
	// top bucket also takes every probe above the last bound. Only
	// synchronous index calls are timed; coroutine-pipelined probes report
	// zero latency and are not bucketed.
	Latency [numLatencyBuckets]atomic.Uint64

	// Engine lifecycle
	StartTime atomic.Int64 // Engine start timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// ObserveGet implements Observer
func (m *Metrics) ObserveGet(latencyNs uint64, found bool) {
	m.GetOps.Add(1)
	if found {
		m.GetHits.Add(1)
	}
	m.recordLatency(latencyNs)
}

// ObserveInsert implements Observer
func (m *Metrics) ObserveInsert(latencyNs uint64, ok bool) {
	m.InsertOps.Add(1)
	if !ok {
		m.InsertCollisions.Add(1)
	}
	m.recordLatency(latencyNs)
}

// ObserveBatch implements Observer
func (m *Metrics) ObserveBatch(size, coalesced uint32) {
	m.Batches.Add(1)
	m.BatchedOps.Add(uint64(size))
	m.CoalescedOps.Add(uint64(coalesced))
}

// ObserveCoroutineSteps implements Observer
func (m *Metrics) ObserveCoroutineSteps(steps uint64) {
	m.CoroutineSteps.Add(steps)
}

// ObserveQueueDepth implements Observer
func (m *Metrics) ObserveQueueDepth(depth uint32) {
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			return
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			return
		}
	}
}

// ObserveEnqueueRetry implements Observer
func (m *Metrics) ObserveEnqueueRetry() {
	m.EnqueueRetries.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	if latencyNs == 0 {
		return
	}
	for i, bound := range LatencyBuckets {
		if latencyNs <= bound {
			m.Latency[i].Add(1)
			return
		}
	}
	m.Latency[numLatencyBuckets-1].Add(1)
}

// Snapshot is a point-in-time copy of the counters, suitable for
// reporting.
type Snapshot struct {
	GetOps           uint64
	InsertOps        uint64
	GetHits          uint64
	InsertCollisions uint64
	Batches          uint64
	BatchedOps       uint64
	CoalescedOps     uint64
	CoroutineSteps   uint64
	EnqueueRetries   uint64
	MaxQueueDepth    uint32
	Uptime           time.Duration
}

// Snapshot returns a consistent-enough copy of the counters. Individual
// fields are loaded independently; exact cross-counter consistency is not
// guaranteed while the engine is running.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		GetOps:           m.GetOps.Load(),
		InsertOps:        m.InsertOps.Load(),
		GetHits:          m.GetHits.Load(),
		InsertCollisions: m.InsertCollisions.Load(),
		Batches:          m.Batches.Load(),
		BatchedOps:       m.BatchedOps.Load(),
		CoalescedOps:     m.CoalescedOps.Load(),
		CoroutineSteps:   m.CoroutineSteps.Load(),
		EnqueueRetries:   m.EnqueueRetries.Load(),
		MaxQueueDepth:    m.MaxQueueDepth.Load(),
		Uptime:           time.Since(time.Unix(0, m.StartTime.Load())),
	}
}

// AvgBatchSize returns the mean number of requests served per batch.
func (m *Metrics) AvgBatchSize() float64 {
	batches := m.Batches.Load()
	if batches == 0 {
		return 0
	}
	return float64(m.BatchedOps.Load()) / float64(batches)
}

// CoalesceRate returns the fraction of batched requests that were grouped
// behind an earlier same-key request by coalescing.
func (m *Metrics) CoalesceRate() float64 {
	ops := m.BatchedOps.Load()
	if ops == 0 {
		return 0
	}
	return float64(m.CoalescedOps.Load()) / float64(ops)
}
