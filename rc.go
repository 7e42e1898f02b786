package dia

import (
	"runtime"
	"sync/atomic"
)

// OID is an opaque object identifier produced by an index lookup. It keys
// the version-chain layer above; 0 is reserved to mean "none".
type OID uint64

// Code is the outcome of a single index probe.
type Code uint8

const (
	// CodeInvalid is the initial sentinel. A worker must set its RC cell to
	// CodeInvalid before dispatch; the index thread overwrites it exactly
	// once with one of the values below.
	CodeInvalid Code = iota

	// CodeTrue means the probe succeeded (key found, or insert installed).
	CodeTrue

	// CodeFalse means the probe logically failed (insert collision, or a
	// read whose outcome was determined false by batch-local history).
	CodeFalse

	// CodeNotFound means the index has no entry for the key.
	CodeNotFound

	// CodeAbort means the index decided the owning transaction must abort.
	CodeAbort
)

func (c Code) String() string {
	switch c {
	case CodeInvalid:
		return "invalid"
	case CodeTrue:
		return "true"
	case CodeFalse:
		return "false"
	case CodeNotFound:
		return "not-found"
	case CodeAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// RC is the per-request return cell shared between a worker and the index
// thread servicing its probe. The worker owns the cell; the index thread
// writes it exactly once per request.
//
// Publication ordering: the index thread stores the request's OID plainly
// and then stores the code with release semantics, so a worker that
// observes a non-invalid code also observes the final OID value.
type RC struct {
	v atomic.Uint32
}

// Load returns the current code with acquire semantics.
func (rc *RC) Load() Code {
	return Code(rc.v.Load())
}

// Reset rearms the cell to the invalid sentinel. Workers must call this
// before every dispatch; reusing a cell without resetting it is a
// programmer error the dispatcher will panic on.
func (rc *RC) Reset() {
	rc.v.Store(uint32(CodeInvalid))
}

// Wait spins until the cell leaves the invalid sentinel and returns the
// published code. This is the only busy wait a worker performs.
func (rc *RC) Wait() Code {
	for spins := 0; ; spins++ {
		if c := Code(rc.v.Load()); c != CodeInvalid {
			return c
		}
		if spins%64 == 63 {
			runtime.Gosched()
		}
	}
}

// publish stores the final code with release semantics. Consumer side only.
func (rc *RC) publish(c Code) {
	rc.v.Store(uint32(c))
}
