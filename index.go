// Package dia provides decoupled index access for main-memory transaction
// engines: worker goroutines hand key probes to dedicated index threads,
// which batch, coalesce and optionally coroutine-pipeline them against a
// pluggable index.
package dia

// XIDContext is the transaction-identity token the index consumes for
// version-visibility decisions. It is opaque to the dispatch layer.
type XIDContext interface{}

// Transaction is the handle a worker passes along with each probe.
type Transaction interface {
	// XIDContext returns the visibility token for this transaction.
	XIDContext() XIDContext

	// Ready reports whether the transaction is fully initialized. The
	// dispatcher refuses (panics on) probes for transactions that are not
	// ready; enqueuing one is a programmer error.
	Ready() bool
}

// Index is the contract an index must satisfy to be served by index
// threads. Implementations are only ever probed for a given key from the
// single thread owning that key's partition, so no cross-call locking is
// required for same-key probes.
type Index interface {
	// GetOID resolves key to an OID. The returned code is never
	// CodeInvalid; on CodeTrue the OID is valid.
	GetOID(key []byte, xc XIDContext) (OID, Code)

	// InsertIfAbsent installs oid under key and reports whether the key
	// was installed. On false the key already existed and the index leaves
	// the caller's oid untouched.
	InsertIfAbsent(t Transaction, key []byte, oid OID) bool
}

// Coroutine is a resumable unit of index work. Each call advances it one
// step; it returns true while more steps remain and false once the probe
// has completed and its out-cells are filled in. Coroutines must only
// suspend between an issued prefetch and the use of the prefetched data,
// and must never hold a lock across a suspension.
type Coroutine func() bool

// CoroutineIndex is an optional extension of Index for implementations
// that can express probes as suspendable tasks, letting one index thread
// overlap the memory latency of many in-flight traversals. Indexes that do
// not implement it are served synchronously even when the coroutine
// handler is configured.
type CoroutineIndex interface {
	Index

	// CoroGetOID returns a coroutine that resolves key, writing the result
	// into oid and code on completion.
	CoroGetOID(key []byte, xc XIDContext, oid *OID, code *Code) Coroutine

	// CoroInsertIfAbsent returns a coroutine that attempts to install oid
	// under key, writing CodeTrue or CodeFalse into code on completion.
	CoroInsertIfAbsent(t Transaction, key []byte, oid OID, code *Code) Coroutine
}

// Registrar is the hook into an external epoch/RCU reclamation subsystem.
// Each index thread registers itself once at startup and calls the
// returned function when it stops.
type Registrar interface {
	Register(thread int) (deregister func())
}

// Logger is the optional logging interface consumed by the engine and its
// index threads.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer is the metrics hook consumed by index threads. Implementations
// must be thread-safe; methods are called from the handler loops.
type Observer interface {
	ObserveGet(latencyNs uint64, found bool)
	ObserveInsert(latencyNs uint64, ok bool)
	ObserveBatch(size, coalesced uint32)
	ObserveCoroutineSteps(steps uint64)
	ObserveQueueDepth(depth uint32)
	ObserveEnqueueRetry()
}
