package dia

import "sync"

// MockTransaction is a trivial Transaction for tests: a fixed visibility
// token and a settable readiness flag.
type MockTransaction struct {
	XC       XIDContext
	NotReady bool
}

// XIDContext implements the Transaction interface
func (t *MockTransaction) XIDContext() XIDContext {
	return t.XC
}

// Ready implements the Transaction interface
func (t *MockTransaction) Ready() bool {
	return !t.NotReady
}

// MockIndex provides a mock implementation of Index and CoroutineIndex
// for testing. It is a flat map with call counting, so tests can assert
// not just outcomes but how many probes actually reached the index — the
// property coalescing is about.
type MockIndex struct {
	mu      sync.Mutex
	entries map[string]OID

	// Yields is how many times each coroutine probe suspends before
	// completing. Zero means coroutines complete on their first advance.
	Yields int

	getCalls        int
	insertCalls     int
	coroGetCalls    int
	coroInsertCalls int
}

// NewMockIndex creates an empty mock index.
func NewMockIndex() *MockIndex {
	return &MockIndex{
		entries: make(map[string]OID),
	}
}

// GetOID implements the Index interface
func (m *MockIndex) GetOID(key []byte, _ XIDContext) (OID, Code) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getCalls++
	if oid, ok := m.entries[string(key)]; ok {
		return oid, CodeTrue
	}
	return 0, CodeNotFound
}

// InsertIfAbsent implements the Index interface
func (m *MockIndex) InsertIfAbsent(_ Transaction, key []byte, oid OID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.insertCalls++
	if _, ok := m.entries[string(key)]; ok {
		return false
	}
	m.entries[string(key)] = oid
	return true
}

// CoroGetOID implements the CoroutineIndex interface
func (m *MockIndex) CoroGetOID(key []byte, xc XIDContext, oid *OID, code *Code) Coroutine {
	m.mu.Lock()
	m.coroGetCalls++
	m.mu.Unlock()

	remaining := m.Yields
	return func() bool {
		if remaining > 0 {
			remaining--
			return true
		}
		*oid, *code = m.GetOID(key, xc)
		return false
	}
}

// CoroInsertIfAbsent implements the CoroutineIndex interface
func (m *MockIndex) CoroInsertIfAbsent(t Transaction, key []byte, oid OID, code *Code) Coroutine {
	m.mu.Lock()
	m.coroInsertCalls++
	m.mu.Unlock()

	remaining := m.Yields
	return func() bool {
		if remaining > 0 {
			remaining--
			return true
		}
		if m.InsertIfAbsent(t, key, oid) {
			*code = CodeTrue
		} else {
			*code = CodeFalse
		}
		return false
	}
}

// Put installs an entry directly, bypassing call counting.
func (m *MockIndex) Put(key []byte, oid OID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[string(key)] = oid
}

// Lookup reads an entry directly, bypassing call counting.
func (m *MockIndex) Lookup(key []byte) (OID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oid, ok := m.entries[string(key)]
	return oid, ok
}

// Len returns the number of installed entries.
func (m *MockIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// GetCalls returns how many GetOID probes reached the index, including the
// lookups performed by completing coroutine get probes.
func (m *MockIndex) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// InsertCalls returns how many InsertIfAbsent probes reached the index,
// including the inserts performed by completing coroutine insert probes.
func (m *MockIndex) InsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertCalls
}

// CoroGetCalls returns how many coroutine get probes were constructed.
func (m *MockIndex) CoroGetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coroGetCalls
}

// CoroInsertCalls returns how many coroutine insert probes were
// constructed.
func (m *MockIndex) CoroInsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coroInsertCalls
}
