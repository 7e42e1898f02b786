package dia

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-dia/internal/constants"
	"github.com/ehrlich-b/go-dia/internal/logging"
)

// Engine state machine
const (
	stateStarting uint32 = iota
	stateRunning
	stateClosed
)

// Params contains parameters for creating an engine.
type Params struct {
	// Threads is the number of index threads. 0 means one per CPU. The
	// intended deployment pairs each worker thread with one index thread.
	Threads int

	// QueueCapacity is the per-thread request ring size. Must be a power
	// of two and at least twice BatchSize.
	QueueCapacity int

	// BatchSize is the peek window a thread examines per iteration.
	BatchSize int

	// Coalesce enables same-batch duplicate-key elision.
	Coalesce bool

	// Coroutines enables the coroutine pipeline handler. Indexes that do
	// not implement CoroutineIndex are still served synchronously.
	Coroutines bool

	// Partition routes keys to threads. When nil, Benchmark selects one:
	// a workload name starting with 'y' gets the YCSB-layout fixed-prefix
	// partitioner, anything else the general hasher.
	Partition PartitionFunc

	// Benchmark is the workload name used to pick a default partitioner.
	Benchmark string

	// Logger receives lifecycle logging. May be nil.
	Logger Logger

	// Observer receives metrics callbacks. May be nil; DefaultParams wires
	// a fresh Metrics.
	Observer Observer

	// CPUAffinity is the optional CPU set index threads are pinned to,
	// assigned round-robin. Empty means no pinning.
	CPUAffinity []int

	// Registrar is the hook into an external epoch/RCU subsystem. May be
	// nil.
	Registrar Registrar
}

// DefaultParams returns default engine parameters backed by a fresh
// Metrics instance.
func DefaultParams() Params {
	return Params{
		Threads:       constants.AutoThreads,
		QueueCapacity: constants.DefaultQueueCapacity,
		BatchSize:     constants.DefaultBatchSize,
		Logger:        logging.Default(),
		Observer:      NewMetrics(),
	}
}

// Engine owns a set of index threads and routes worker probes to them.
// There is no hidden global registry: create one with Start and pass it to
// whoever dispatches.
//
// Worker protocol: reset the rc cell, call SendGetRequest or
// SendInsertRequest, then poll (or Wait on) the cell until it leaves
// CodeInvalid. Every dispatched probe must be awaited; abandoning one is
// not permitted. The key's backing storage must outlive the request.
type Engine struct {
	threads   []*indexThread
	partition PartitionFunc
	logger    Logger
	observer  Observer
	state     atomic.Uint32
}

// Start validates params, creates the index threads and blocks until
// every one of them is pinned, registered and serving.
func Start(params Params) (*Engine, error) {
	threads := params.Threads
	if threads == constants.AutoThreads {
		threads = runtime.NumCPU()
	}
	if threads < 1 {
		return nil, NewError("Start", ErrCodeInvalidParameters, "thread count must be positive")
	}
	capacity := params.QueueCapacity
	if capacity == 0 {
		capacity = constants.DefaultQueueCapacity
	}
	if capacity&(capacity-1) != 0 {
		return nil, NewError("Start", ErrCodeInvalidParameters, "queue capacity must be a power of two")
	}
	batch := params.BatchSize
	if batch == 0 {
		batch = constants.DefaultBatchSize
	}
	if batch < 1 || batch > capacity/2 {
		return nil, NewError("Start", ErrCodeInvalidParameters, "batch size must be in [1, capacity/2]")
	}
	partition := params.Partition
	if partition == nil {
		partition = partitionForBenchmark(params.Benchmark)
	}

	e := &Engine{
		threads:   make([]*indexThread, threads),
		partition: partition,
		logger:    params.Logger,
		observer:  params.Observer,
	}
	for i := range e.threads {
		e.threads[i] = newIndexThread(threadConfig{
			ID:            i,
			QueueCapacity: capacity,
			BatchSize:     batch,
			Coalesce:      params.Coalesce,
			Coroutines:    params.Coroutines,
			Logger:        params.Logger,
			Observer:      params.Observer,
			CPUAffinity:   params.CPUAffinity,
			Registrar:     params.Registrar,
		})
	}

	var g errgroup.Group
	for _, t := range e.threads {
		t := t
		g.Go(func() error {
			t.start()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, WrapError("Start", err)
	}
	e.state.Store(stateRunning)
	if e.logger != nil {
		e.logger.Printf("dia engine running with %d index threads", threads)
	}
	return e, nil
}

// Threads returns the number of index threads, which is also the number
// of key partitions.
func (e *Engine) Threads() int {
	return len(e.threads)
}

// SendGetRequest dispatches a key lookup for t. The call returns once the
// probe is enqueued on its partition's thread; completion is signaled by
// rc leaving CodeInvalid, at which point *oid holds the result.
func (e *Engine) SendGetRequest(t Transaction, index Index, key []byte, oid *OID, rc *RC) {
	e.dispatch(request{txn: t, index: index, key: key, oid: oid, rc: rc, kind: kindGet})
}

// SendInsertRequest dispatches an insert-if-absent of *oid under key for
// t. On CodeFalse the key already existed and *oid is untouched.
func (e *Engine) SendInsertRequest(t Transaction, index Index, key []byte, oid *OID, rc *RC) {
	e.dispatch(request{txn: t, index: index, key: key, oid: oid, rc: rc, kind: kindInsert})
}

func (e *Engine) dispatch(r request) {
	if e.state.Load() != stateRunning {
		panic("dia: dispatch on an engine that is not running")
	}
	if r.index == nil {
		panic("dia: dispatch without an index")
	}
	if len(r.key) == 0 {
		panic("dia: dispatch with an empty key")
	}
	if r.txn == nil || !r.txn.Ready() {
		panic("dia: dispatch for a transaction that is not ready")
	}
	if r.rc == nil || r.rc.Load() != CodeInvalid {
		panic("dia: dispatch with an unarmed rc cell")
	}
	if r.oid == nil {
		panic("dia: dispatch without an oid cell")
	}
	w := e.partition(r.key) % uint32(len(e.threads))
	e.threads[w].addRequest(r)
}

// Close shuts the engine down. Workers must have quiesced: every
// outstanding probe is still served (threads drain their queues before
// exiting at a batch boundary), but new dispatches panic once Close
// begins.
func (e *Engine) Close() error {
	if !e.state.CompareAndSwap(stateRunning, stateClosed) {
		return NewError("Close", ErrCodeShutdown, "engine is not running")
	}
	for _, t := range e.threads {
		t.stop()
	}
	if e.logger != nil {
		e.logger.Printf("dia engine stopped")
	}
	return nil
}
