package dia

import (
	"runtime"
	"time"

	"github.com/ehrlich-b/go-dia/internal/constants"
)

// threadConfig carries the per-thread slice of the engine parameters.
type threadConfig struct {
	ID            int
	QueueCapacity int
	BatchSize     int
	Coalesce      bool
	Coroutines    bool
	Logger        Logger
	Observer      Observer
	CPUAffinity   []int
	Registrar     Registrar
}

// indexThread owns one request queue and services every probe routed to
// its partition. It runs on a dedicated, OS-thread-pinned goroutine and is
// single-threaded internally: when coroutines are enabled it interleaves
// in-flight probes cooperatively, never in parallel.
type indexThread struct {
	id         int
	queue      *requestQueue
	batchSize  int
	coalesce   bool
	coroutines bool
	logger     Logger
	observer   Observer
	affinity   []int
	registrar  Registrar

	// groups is the per-batch coalesce map, keyed by key digest. Reset on
	// every iteration; its lifetime is one batch.
	groups map[uint64][]int

	done    chan struct{}
	stopped chan struct{}
}

func newIndexThread(cfg threadConfig) *indexThread {
	return &indexThread{
		id:         cfg.ID,
		queue:      newRequestQueue(cfg.QueueCapacity),
		batchSize:  cfg.BatchSize,
		coalesce:   cfg.Coalesce,
		coroutines: cfg.Coroutines,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
		affinity:   cfg.CPUAffinity,
		registrar:  cfg.Registrar,
		groups:     make(map[uint64][]int),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// start launches the handler loop and blocks until the thread is pinned
// and registered, so callers observe a fully started thread.
func (it *indexThread) start() {
	started := make(chan struct{})
	go it.run(started)
	<-started
}

// stop flags shutdown and waits for the handler loop to drain its queue
// and exit. Workers must have quiesced first: the loop only exits at a
// batch boundary with an empty queue.
func (it *indexThread) stop() {
	close(it.done)
	<-it.stopped
}

// addRequest enqueues a probe, spinning while the ring is full.
// Backpressure is the only admission control: the producer never drops.
// Producer side; exactly one worker may call this per thread.
func (it *indexThread) addRequest(r request) {
	spins := 0
	for !it.queue.enqueue(r) {
		if it.observer != nil {
			// A failed enqueue means the ring was at capacity.
			it.observer.ObserveEnqueueRetry()
			it.observer.ObserveQueueDepth(uint32(it.queue.capacity()))
		}
		spins++
		if spins >= constants.EnqueueSpinLimit {
			spins = 0
			runtime.Gosched()
		}
	}
	if it.observer != nil {
		it.observer.ObserveQueueDepth(uint32(it.queue.depth()))
	}
}

// run is the thread body: pin, set affinity, register with the epoch
// subsystem, then loop in the configured handler until shutdown.
func (it *indexThread) run(started chan<- struct{}) {
	defer close(it.stopped)

	// Index threads impersonate dedicated OS threads; the partition's
	// probes must all execute on this one.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(it.affinity) > 0 {
		cpu := it.affinity[it.id%len(it.affinity)]
		if err := setAffinity(cpu); err != nil {
			if it.logger != nil {
				it.logger.Printf("index thread %d: failed to set CPU affinity to %d: %v", it.id, cpu, err)
			}
			// Continue without affinity - not fatal
		} else if it.logger != nil {
			it.logger.Debugf("index thread %d: pinned to CPU %d", it.id, cpu)
		}
	}

	if it.registrar != nil {
		deregister := it.registrar.Register(it.id)
		if deregister != nil {
			defer deregister()
		}
	}

	if it.logger != nil {
		it.logger.Printf("index thread %d started (coalesce=%v coroutines=%v)", it.id, it.coalesce, it.coroutines)
	}
	close(started)

	if it.coroutines {
		it.coroutineHandler()
	} else {
		it.serialHandler()
	}

	if it.logger != nil {
		it.logger.Debugf("index thread %d stopped", it.id)
	}
}

// serialHandler services probes synchronously, one request at a time or
// in coalesced batches.
func (it *indexThread) serialHandler() {
	if it.coalesce {
		for it.waitForWork() {
			it.serveBatchCoalesced()
		}
		return
	}
	for {
		req := it.queue.next(it.done)
		if req == nil {
			return
		}
		it.serveOne(req)
		it.queue.dequeue()
	}
}

// serveOne performs a single probe and publishes its outcome.
func (it *indexThread) serveOne(req *request) {
	validateRequest(req)
	switch req.kind {
	case kindGet:
		var start time.Time
		if it.observer != nil {
			start = time.Now()
		}
		oid, code := req.index.GetOID(req.key, req.txn.XIDContext())
		*req.oid = oid
		req.rc.publish(code)
		if it.observer != nil {
			it.observer.ObserveGet(uint64(time.Since(start).Nanoseconds()), code == CodeTrue)
		}
	case kindInsert:
		var start time.Time
		if it.observer != nil {
			start = time.Now()
		}
		ok := req.index.InsertIfAbsent(req.txn, req.key, *req.oid)
		code := CodeFalse
		if ok {
			code = CodeTrue
		}
		req.rc.publish(code)
		if it.observer != nil {
			it.observer.ObserveInsert(uint64(time.Since(start).Nanoseconds()), ok)
		}
	}
}

// waitForWork blocks until at least one request is published, returning
// false when shutdown is flagged and the queue has drained.
func (it *indexThread) waitForWork() bool {
	for spins := 0; ; spins++ {
		if it.queue.depth() > 0 {
			return true
		}
		if spins >= constants.ConsumerSpinLimit {
			spins = 0
			select {
			case <-it.done:
				if it.queue.depth() > 0 {
					continue
				}
				return false
			default:
			}
			runtime.Gosched()
		}
	}
}

// scanBatch peeks up to batchSize published slots starting at pos,
// validating each, and returns how many it saw. The scan stops at the
// first unpublished slot; it never blocks.
func (it *indexThread) scanBatch(pos uint64) int {
	n := 0
	for ; n < it.batchSize; n++ {
		req := it.queue.peek(pos + uint64(n))
		if req == nil {
			break
		}
		validateRequest(req)
	}
	return n
}

// buildGroups fills the coalesce map for the n slots starting at pos:
// digest of each request's key to the batch-local offsets sharing it, in
// enqueue order.
func (it *indexThread) buildGroups(pos uint64, n int) {
	clear(it.groups)
	for i := 0; i < n; i++ {
		req := it.queue.peek(pos + uint64(i))
		d := keyDigest(req.key)
		it.groups[d] = append(it.groups[d], i)
	}
}

// serveBatchCoalesced is one iteration of the coalescing serial handler:
// snapshot a peek window, group same-key requests, serve each group with
// batch-local result reuse, then consume exactly what was peeked.
func (it *indexThread) serveBatchCoalesced() {
	pos := it.queue.pos()
	n := it.scanBatch(pos)
	if n == 0 {
		return
	}
	it.buildGroups(pos, n)

	for _, offsets := range it.groups {
		var st groupState
		it.replayRequests(pos, offsets, &st)
	}

	for i := 0; i < n; i++ {
		it.queue.dequeue()
	}
	if it.observer != nil {
		it.observer.ObserveBatch(uint32(n), uint32(n-len(it.groups)))
	}
}

// groupState is the batch-local history carried across a same-key group.
// The zero value (no oid, CodeInvalid, no insert yet) is the initial
// state. Results must live here rather than in the first request's cells:
// the worker may reuse those as soon as its rc is published.
type groupState struct {
	oid      OID
	code     Code
	insertOK bool
}

// replayRequests serves the given same-key offsets in enqueue order,
// reusing batch-local history to elide index calls whose results are
// already determined:
//
//   - a Get after any completed probe of the key reuses the recorded
//     oid/code without touching the index;
//   - an Insert after a successful insert or a successful read fails
//     immediately, because the key is known to exist;
//   - otherwise the probe is issued and its outcome recorded.
//
// Every request gets its rc published exactly once. Deletes are not a
// concern at this layer; they are resolved by the version-chain traversal
// above the index.
func (it *indexThread) replayRequests(pos uint64, offsets []int, st *groupState) {
	for _, off := range offsets {
		req := it.queue.peek(pos + uint64(off))
		if req == nil || req.kind == kindInvalid {
			panic("dia: coalesced slot vanished before consumption")
		}
		switch req.kind {
		case kindGet:
			if !st.insertOK && st.code == CodeInvalid {
				var start time.Time
				if it.observer != nil {
					start = time.Now()
				}
				st.oid, st.code = req.index.GetOID(req.key, req.txn.XIDContext())
				if it.observer != nil {
					it.observer.ObserveGet(uint64(time.Since(start).Nanoseconds()), st.code == CodeTrue)
				}
			} else if it.observer != nil {
				it.observer.ObserveGet(0, st.code == CodeTrue)
			}
			if st.code == CodeInvalid {
				panic("dia: index returned the invalid sentinel")
			}
			*req.oid = st.oid
			req.rc.publish(st.code)

		case kindInsert:
			if st.insertOK || st.code == CodeTrue {
				// The key exists in this batch's history; the insert
				// cannot succeed.
				req.rc.publish(CodeFalse)
				if it.observer != nil {
					it.observer.ObserveInsert(0, false)
				}
				continue
			}
			var start time.Time
			if it.observer != nil {
				start = time.Now()
			}
			ok := req.index.InsertIfAbsent(req.txn, req.key, *req.oid)
			if ok {
				st.insertOK = true
				st.code = CodeTrue
				st.oid = *req.oid
			} else {
				st.code = CodeFalse
			}
			req.rc.publish(st.code)
			if it.observer != nil {
				it.observer.ObserveInsert(uint64(time.Since(start).Nanoseconds()), ok)
			}
		}
	}
}

// validateRequest enforces the producer-boundary preconditions. Violations
// are programmer errors and fail fast.
func validateRequest(req *request) {
	if req.kind == kindInvalid {
		panic("dia: invalid request published")
	}
	if req.txn == nil {
		panic("dia: request without a transaction")
	}
	if !req.txn.Ready() {
		panic("dia: request for a transaction that is not ready")
	}
	if req.oid == nil || req.rc == nil {
		panic("dia: request without result cells")
	}
}
