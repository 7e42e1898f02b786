package dia

import (
	"fmt"
	"testing"
)

// plainIndex strips the coroutine capability from a MockIndex so the
// fallback path can be exercised.
type plainIndex struct {
	inner *MockIndex
}

func (p *plainIndex) GetOID(key []byte, xc XIDContext) (OID, Code) {
	return p.inner.GetOID(key, xc)
}

func (p *plainIndex) InsertIfAbsent(t Transaction, key []byte, oid OID) bool {
	return p.inner.InsertIfAbsent(t, key, oid)
}

func TestCoroSchedulerRoundRobin(t *testing.T) {
	var sched coroScheduler
	var trace []string

	// Three tasks with different lifetimes; each sweep advances every
	// live task once.
	for i, yields := range []int{2, 0, 1} {
		i, remaining := i, yields
		sched.add(func() bool {
			trace = append(trace, fmt.Sprintf("t%d", i))
			if remaining > 0 {
				remaining--
				return true
			}
			return false
		})
	}

	steps := sched.run()
	if steps != 6 {
		t.Errorf("steps = %d, want 6", steps)
	}
	want := []string{"t0", "t1", "t2", "t0", "t2", "t0"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
	if len(sched.tasks) != 0 {
		t.Errorf("scheduler retained %d tasks after drain", len(sched.tasks))
	}
}

// Scenario: a 32-request coroutine batch where every probe suspends twice
// publishes all 32 results and performs at least 64 advances.
func TestCoroutineBatchCompletes(t *testing.T) {
	idx := NewMockIndex()
	idx.Yields = 2
	metrics := NewMetrics()
	cfg := testThreadConfig(false, true)
	cfg.Observer = metrics
	th := newIndexThread(cfg)

	var probes []*probe
	for i := 0; i < 32; i++ {
		probes = append(probes, &probe{kind: kindGet, key: fmt.Sprintf("k%02d", i)})
	}
	enqueueProbes(t, th, idx, probes)
	th.start()
	awaitProbes(probes)
	th.stop()

	for i, p := range probes {
		if got := p.rc.Load(); got != CodeNotFound {
			t.Errorf("probe %d rc = %v, want not-found", i, got)
		}
	}
	if got := metrics.CoroutineSteps.Load(); got < 64 {
		t.Errorf("coroutine steps = %d, want >= 64", got)
	}
	if got := idx.CoroGetCalls(); got != 32 {
		t.Errorf("coroutine constructions = %d, want 32", got)
	}
}

// Coalescing with coroutines creates a coroutine only for the first
// request of each key and replays the rest from its result.
func TestCoroutineCoalescedGets(t *testing.T) {
	idx := NewMockIndex()
	idx.Put([]byte("K1"), 11)
	th := newIndexThread(testThreadConfig(true, true))

	probes := []*probe{
		{kind: kindGet, key: "K1"},
		{kind: kindGet, key: "K1"},
		{kind: kindGet, key: "K1"},
		{kind: kindGet, key: "K2"},
	}
	enqueueProbes(t, th, idx, probes)
	th.start()
	awaitProbes(probes)
	th.stop()

	for i := 0; i < 3; i++ {
		if got := probes[i].rc.Load(); got != CodeTrue {
			t.Errorf("probe %d rc = %v, want true", i, got)
		}
		if got := probes[i].oid; got != 11 {
			t.Errorf("probe %d oid = %d, want 11", i, got)
		}
	}
	if got := probes[3].rc.Load(); got != CodeNotFound {
		t.Errorf("K2 rc = %v, want not-found", got)
	}
	if got := idx.CoroGetCalls(); got != 2 {
		t.Errorf("coroutine constructions = %d, want 2 (one per unique key)", got)
	}
}

// Read-insert-read semantics hold under the coroutine handler too.
func TestCoroutineCoalescedReadInsertRead(t *testing.T) {
	idx := NewMockIndex()
	th := newIndexThread(testThreadConfig(true, true))

	probes := []*probe{
		{kind: kindGet, key: "K"},
		{kind: kindInsert, key: "K", oid: 42},
		{kind: kindGet, key: "K"},
	}
	enqueueProbes(t, th, idx, probes)
	th.start()
	awaitProbes(probes)
	th.stop()

	if got := probes[0].rc.Load(); got != CodeNotFound {
		t.Errorf("first get rc = %v, want not-found", got)
	}
	if got := probes[1].rc.Load(); got != CodeTrue {
		t.Errorf("insert rc = %v, want true", got)
	}
	if got := probes[2].rc.Load(); got != CodeTrue {
		t.Errorf("second get rc = %v, want true", got)
	}
	if got := probes[2].oid; got != 42 {
		t.Errorf("second get oid = %d, want 42", got)
	}
}

// An index without coroutine support is served synchronously by the
// coroutine handler.
func TestCoroutineFallbackSynchronous(t *testing.T) {
	mock := NewMockIndex()
	idx := &plainIndex{inner: mock}
	th := newIndexThread(testThreadConfig(false, true))

	probes := []*probe{
		{kind: kindInsert, key: "K", oid: 3},
		{kind: kindGet, key: "K"},
	}
	enqueueProbes(t, th, idx, probes)
	th.start()
	awaitProbes(probes)
	th.stop()

	if got := probes[0].rc.Load(); got != CodeTrue {
		t.Errorf("insert rc = %v, want true", got)
	}
	if got := probes[1].rc.Load(); got != CodeTrue {
		t.Errorf("get rc = %v, want true", got)
	}
	if got := probes[1].oid; got != 3 {
		t.Errorf("get oid = %d, want 3", got)
	}
	if got := mock.CoroGetCalls() + mock.CoroInsertCalls(); got != 0 {
		t.Errorf("coroutine constructions = %d, want 0", got)
	}
}

// Coroutine handler equivalence with the serial handler over a mixed
// stream.
func TestCoroutineEquivalence(t *testing.T) {
	type outcome struct {
		rc  Code
		oid OID
	}

	run := func(coroutines bool) []outcome {
		idx := NewMockIndex()
		idx.Yields = 1
		th := newIndexThread(testThreadConfig(true, coroutines))
		th.start()

		var probes []*probe
		for i := 0; i < 200; i++ {
			key := fmt.Sprintf("key-%d", i%16)
			p := &probe{kind: kindGet, key: key}
			// One insert per key, the first time it is seen.
			if i < 16 {
				p.kind = kindInsert
				p.oid = OID(100 + i)
			}
			probes = append(probes, p)
			enqueueProbes(t, th, idx, probes[i:])
		}
		awaitProbes(probes)
		th.stop()

		outs := make([]outcome, len(probes))
		for i, p := range probes {
			outs[i] = outcome{rc: p.rc.Load(), oid: p.oid}
		}
		return outs
	}

	serial := run(false)
	coro := run(true)
	for i := range serial {
		if serial[i] != coro[i] {
			t.Fatalf("probe %d: serial=%+v coroutine=%+v", i, serial[i], coro[i])
		}
	}
}
