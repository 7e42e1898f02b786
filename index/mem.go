// Package index provides standard index implementations for the dia
// engine.
package index

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	dia "github.com/ehrlich-b/go-dia"
)

// DefaultShards is the default shard count. Keys are spread by hash, so
// 256 shards keep lock contention negligible even with one index thread
// per core; the per-key serialization the engine guarantees makes the
// locks mostly uncontended anyway.
const DefaultShards = 256

// Memory is a RAM-based hash index mapping keys to OIDs. It is
// single-version: visibility decisions belong to the version-chain layer
// above, so the XIDContext is accepted and ignored.
//
// Memory implements both dia.Index and dia.CoroutineIndex. The coroutine
// probes split each lookup at the shard-prefetch boundary: the first
// advance resolves which shard holds the key, the second locks that shard
// and touches the entries. That models the prefetch-then-use await points a tree index
// would suspend at.
type Memory struct {
	shards []shard
	mask   uint64
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]dia.OID
}

// NewMemory creates a memory index with the given shard count, rounded up
// to a power of two. Zero means DefaultShards.
func NewMemory(shards int) *Memory {
	if shards <= 0 {
		shards = DefaultShards
	}
	n := 1
	for n < shards {
		n <<= 1
	}
	m := &Memory{
		shards: make([]shard, n),
		mask:   uint64(n - 1),
	}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]dia.OID)
	}
	return m
}

func (m *Memory) shardFor(digest uint64) *shard {
	return &m.shards[digest&m.mask]
}

// GetOID implements the dia.Index interface
func (m *Memory) GetOID(key []byte, _ dia.XIDContext) (dia.OID, dia.Code) {
	s := m.shardFor(xxhash.Sum64(key))
	s.mu.RLock()
	oid, ok := s.entries[string(key)]
	s.mu.RUnlock()
	if !ok {
		return 0, dia.CodeNotFound
	}
	return oid, dia.CodeTrue
}

// InsertIfAbsent implements the dia.Index interface
func (m *Memory) InsertIfAbsent(_ dia.Transaction, key []byte, oid dia.OID) bool {
	s := m.shardFor(xxhash.Sum64(key))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[string(key)]; ok {
		return false
	}
	s.entries[string(key)] = oid
	return true
}

// CoroGetOID implements the dia.CoroutineIndex interface
func (m *Memory) CoroGetOID(key []byte, _ dia.XIDContext, oid *dia.OID, code *dia.Code) dia.Coroutine {
	var s *shard
	return func() bool {
		if s == nil {
			s = m.shardFor(xxhash.Sum64(key))
			return true
		}
		s.mu.RLock()
		o, ok := s.entries[string(key)]
		s.mu.RUnlock()
		if ok {
			*oid, *code = o, dia.CodeTrue
		} else {
			*oid, *code = 0, dia.CodeNotFound
		}
		return false
	}
}

// CoroInsertIfAbsent implements the dia.CoroutineIndex interface
func (m *Memory) CoroInsertIfAbsent(_ dia.Transaction, key []byte, oid dia.OID, code *dia.Code) dia.Coroutine {
	var s *shard
	return func() bool {
		if s == nil {
			s = m.shardFor(xxhash.Sum64(key))
			return true
		}
		s.mu.Lock()
		_, exists := s.entries[string(key)]
		if !exists {
			s.entries[string(key)] = oid
		}
		s.mu.Unlock()
		if exists {
			*code = dia.CodeFalse
		} else {
			*code = dia.CodeTrue
		}
		return false
	}
}

// Len returns the total number of installed entries.
func (m *Memory) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
