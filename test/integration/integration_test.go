package integration

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	dia "github.com/ehrlich-b/go-dia"
	"github.com/ehrlich-b/go-dia/index"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// partitionKey builds a fixed-layout key targeting partition p.
func partitionKey(p uint32, seq int) []byte {
	key := make([]byte, 16)
	key[4] = byte(p)
	key[5] = byte(p >> 8)
	key[6] = byte(p >> 16)
	key[7] = byte(p >> 24)
	copy(key[8:], fmt.Sprintf("%08d", seq))
	return key
}

// runWorkload drives one worker per partition through an insert-then-read
// workload against a shared memory index and verifies every outcome.
func runWorkload(t *testing.T, params dia.Params) {
	t.Helper()
	const workers = 4
	const keys = 64
	const ops = 512

	params.Threads = workers
	params.Partition = dia.FixedPrefixPartition
	params.Logger = nil

	e, err := dia.Start(params)
	require.NoError(t, err)
	defer func() { require.NoError(t, e.Close()) }()

	idx := index.NewMemory(0)

	var wg sync.WaitGroup
	for w := uint32(0); w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn := &dia.MockTransaction{}
			rcs := make([]dia.RC, ops)
			oids := make([]dia.OID, ops)
			for i := 0; i < ops; i++ {
				k := i % keys
				key := partitionKey(w, k)
				if i < keys {
					oids[i] = dia.OID(uint64(w+1)<<32 | uint64(k+1))
					e.SendInsertRequest(txn, idx, key, &oids[i], &rcs[i])
				} else {
					e.SendGetRequest(txn, idx, key, &oids[i], &rcs[i])
				}
			}
			for i := 0; i < ops; i++ {
				k := i % keys
				code := rcs[i].Wait()
				if code != dia.CodeTrue {
					t.Errorf("worker %d op %d rc = %v, want true", w, i, code)
					return
				}
				if want := dia.OID(uint64(w+1)<<32 | uint64(k+1)); oids[i] != want {
					t.Errorf("worker %d op %d oid = %d, want %d", w, i, oids[i], want)
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, workers*keys, idx.Len())
}

func TestEngineWithMemoryIndex(t *testing.T) {
	modes := []struct {
		name       string
		coalesce   bool
		coroutines bool
	}{
		{"serial", false, false},
		{"serial-coalesced", true, false},
		{"coroutine", false, true},
		{"coroutine-coalesced", true, true},
	}

	for _, mode := range modes {
		mode := mode
		t.Run(mode.name, func(t *testing.T) {
			runWorkload(t, dia.Params{
				QueueCapacity: 256,
				BatchSize:     16,
				Coalesce:      mode.coalesce,
				Coroutines:    mode.coroutines,
			})
		})
	}
}

// Once every dispatched probe has been awaited, Close succeeds with all
// inserts installed, and index threads leave no goroutines behind
// (verified by goleak in TestMain).
func TestEngineShutdownDrains(t *testing.T) {
	e, err := dia.Start(dia.Params{
		Threads:       2,
		QueueCapacity: 128,
		BatchSize:     16,
		Coalesce:      true,
	})
	require.NoError(t, err)

	idx := index.NewMemory(0)
	txn := &dia.MockTransaction{}
	const n = 200

	rcs := make([]dia.RC, n)
	oids := make([]dia.OID, n)
	for i := 0; i < n; i++ {
		oids[i] = dia.OID(i + 1)
		e.SendInsertRequest(txn, idx, []byte(fmt.Sprintf("drain-%04d", i)), &oids[i], &rcs[i])
	}
	// Quiesce: await everything that was dispatched, then close.
	for i := range rcs {
		require.Equal(t, dia.CodeTrue, rcs[i].Wait())
	}
	require.NoError(t, e.Close())
	require.Equal(t, n, idx.Len())
}

// Metrics flow through the engine end to end.
func TestEngineMetrics(t *testing.T) {
	metrics := dia.NewMetrics()
	e, err := dia.Start(dia.Params{
		Threads:       1,
		QueueCapacity: 128,
		BatchSize:     16,
		Coalesce:      true,
		Observer:      metrics,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, e.Close()) }()

	idx := index.NewMemory(0)
	txn := &dia.MockTransaction{}

	var oid dia.OID = 9
	var rc dia.RC
	e.SendInsertRequest(txn, idx, []byte("m"), &oid, &rc)
	require.Equal(t, dia.CodeTrue, rc.Wait())

	var got dia.OID
	rc.Reset()
	e.SendGetRequest(txn, idx, []byte("m"), &got, &rc)
	require.Equal(t, dia.CodeTrue, rc.Wait())
	require.Equal(t, dia.OID(9), got)

	snap := metrics.Snapshot()
	require.Equal(t, uint64(1), snap.GetOps)
	require.Equal(t, uint64(1), snap.InsertOps)
	require.Equal(t, uint64(1), snap.GetHits)
	require.Equal(t, uint64(0), snap.InsertCollisions)
}
