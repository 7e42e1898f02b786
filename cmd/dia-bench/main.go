package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"

	"golang.org/x/sync/errgroup"

	dia "github.com/ehrlich-b/go-dia"
	"github.com/ehrlich-b/go-dia/index"
	"github.com/ehrlich-b/go-dia/internal/logging"
)

func main() {
	var (
		threads    = flag.Int("threads", runtime.NumCPU(), "Number of index threads (and workers)")
		ops        = flag.Int("ops", 1_000_000, "Operations per worker")
		keys       = flag.Int("keys", 100_000, "Key-space size per partition")
		readPct    = flag.Int("read-pct", 80, "Percentage of gets (rest are inserts)")
		coalesce   = flag.Bool("coalesce", false, "Enable same-batch request coalescing")
		coroutines = flag.Bool("coroutines", false, "Enable the coroutine pipeline handler")
		benchmark  = flag.String("benchmark", "ycsb", "Workload name; selects the key partitioner")
		verbose    = flag.Bool("v", false, "Verbose output")
		cpuprofile = flag.String("cpuprofile", "", "Write CPU profile to file")
	)
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatalf("could not create CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("could not start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	// Set up logging
	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	metrics := dia.NewMetrics()
	params := dia.DefaultParams()
	params.Threads = *threads
	params.Coalesce = *coalesce
	params.Coroutines = *coroutines
	params.Benchmark = *benchmark
	params.Logger = logger
	params.Observer = metrics

	logger.Info("starting dia benchmark",
		"threads", *threads, "ops", *ops, "keys", *keys,
		"coalesce", *coalesce, "coroutines", *coroutines)

	engine, err := dia.Start(params)
	if err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	idx := index.NewMemory(0)

	// One worker per index thread, each confined to its own partition so
	// every ring keeps a single producer.
	var g errgroup.Group
	for w := 0; w < *threads; w++ {
		w := w
		g.Go(func() error {
			return runWorker(engine, idx, uint32(w), *ops, *keys, *readPct)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}

	if err := engine.Close(); err != nil {
		logger.Error("failed to close engine", "error", err)
		os.Exit(1)
	}

	report(metrics, idx)
}

// runWorker drives a mixed get/insert stream over one partition,
// awaiting every probe.
func runWorker(engine *dia.Engine, idx *index.Memory, partition uint32, ops, keys, readPct int) error {
	rng := rand.New(rand.NewSource(int64(partition) + 1))
	txn := &benchTxn{}

	// Result cells are recycled in a window so the worker keeps a bounded
	// number of probes in flight.
	const window = 1024
	rcs := make([]dia.RC, window)
	oids := make([]dia.OID, window)
	keybufs := make([][]byte, window)

	for i := 0; i < ops; i++ {
		slot := i % window
		if i >= window {
			if code := rcs[slot].Wait(); code == dia.CodeAbort {
				return fmt.Errorf("partition %d probe aborted", partition)
			}
		}
		rcs[slot].Reset()
		keybufs[slot] = benchKey(keybufs[slot], partition, rng.Intn(keys))

		if rng.Intn(100) < readPct {
			engine.SendGetRequest(txn, idx, keybufs[slot], &oids[slot], &rcs[slot])
		} else {
			oids[slot] = dia.OID(rng.Uint64() | 1)
			engine.SendInsertRequest(txn, idx, keybufs[slot], &oids[slot], &rcs[slot])
		}
	}
	for slot := 0; slot < window && slot < ops; slot++ {
		rcs[slot].Wait()
	}
	return nil
}

// benchKey builds a 16-byte fixed-layout key whose high prefix selects the
// partition, reusing buf when possible.
func benchKey(buf []byte, partition uint32, seq int) []byte {
	if cap(buf) < 16 {
		buf = make([]byte, 16)
	}
	buf = buf[:16]
	buf[0] = byte(seq)
	buf[1] = byte(seq >> 8)
	buf[2] = byte(seq >> 16)
	buf[3] = byte(seq >> 24)
	buf[4] = byte(partition)
	buf[5] = byte(partition >> 8)
	buf[6] = byte(partition >> 16)
	buf[7] = byte(partition >> 24)
	copy(buf[8:], "diabench")
	return buf
}

// benchTxn is the minimal transaction handle the benchmark needs.
type benchTxn struct{}

func (*benchTxn) XIDContext() dia.XIDContext { return nil }
func (*benchTxn) Ready() bool                { return true }

func report(metrics *dia.Metrics, idx *index.Memory) {
	snap := metrics.Snapshot()
	total := snap.GetOps + snap.InsertOps
	fmt.Printf("ops:               %d (%d gets, %d inserts)\n", total, snap.GetOps, snap.InsertOps)
	fmt.Printf("throughput:        %.0f ops/sec\n", float64(total)/snap.Uptime.Seconds())
	fmt.Printf("get hit rate:      %.1f%%\n", pct(snap.GetHits, snap.GetOps))
	fmt.Printf("insert collisions: %d\n", snap.InsertCollisions)
	fmt.Printf("avg batch:         %.1f\n", metrics.AvgBatchSize())
	fmt.Printf("coalesce rate:     %.1f%%\n", metrics.CoalesceRate()*100)
	fmt.Printf("coroutine steps:   %d\n", snap.CoroutineSteps)
	fmt.Printf("enqueue retries:   %d\n", snap.EnqueueRetries)
	fmt.Printf("queue high-water:  %d\n", snap.MaxQueueDepth)
	fmt.Printf("index entries:     %d\n", idx.Len())
}

func pct(num, den uint64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}
