package dia

// coroScheduler round-robins a batch of suspended probes: each sweep
// advances every live coroutine once, dropping the ones that report done.
// It is single-threaded and cooperative; a coroutine that never yields
// false would stall the whole thread, which is a correctness requirement
// on the index implementation, not on the scheduler.
type coroScheduler struct {
	tasks []Coroutine
}

func (s *coroScheduler) add(c Coroutine) {
	s.tasks = append(s.tasks, c)
}

// run drives the batch to completion and returns the total number of
// advances performed.
func (s *coroScheduler) run() uint64 {
	var steps uint64
	for len(s.tasks) > 0 {
		live := 0
		for i := range s.tasks {
			steps++
			if s.tasks[i]() {
				s.tasks[live] = s.tasks[i]
				live++
			}
		}
		for i := live; i < len(s.tasks); i++ {
			s.tasks[i] = nil
		}
		s.tasks = s.tasks[:live]
	}
	return steps
}

// coroutineHandler services probes as suspendable tasks so one thread can
// overlap the memory latency of a whole batch of tree traversals. The
// per-batch result arrays are owned by the handler rather than aliasing
// the requests' out-cells: nothing is published until the batch settles,
// and workers may reuse their cells the instant rc is written.
func (it *indexThread) coroutineHandler() {
	codes := make([]Code, it.batchSize)
	oids := make([]OID, it.batchSize)
	sched := &coroScheduler{tasks: make([]Coroutine, 0, it.batchSize)}

	for it.waitForWork() {
		it.serveBatchCoroutine(codes, oids, sched)
	}
}

// serveBatchCoroutine is one iteration of the coroutine handler: peek a
// window, launch one coroutine per probe (per unique key when coalescing),
// drain the scheduler, publish, consume.
func (it *indexThread) serveBatchCoroutine(codes []Code, oids []OID, sched *coroScheduler) {
	pos := it.queue.pos()
	n := it.scanBatch(pos)
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		codes[i] = CodeInvalid
		oids[i] = 0
	}

	if it.coalesce {
		it.buildGroups(pos, n)
		for _, offsets := range it.groups {
			it.launch(pos, offsets[0], codes, oids, sched)
		}
	} else {
		for i := 0; i < n; i++ {
			it.launch(pos, i, codes, oids, sched)
		}
	}

	steps := sched.run()
	if it.observer != nil {
		it.observer.ObserveCoroutineSteps(steps)
	}

	if it.coalesce {
		for _, offsets := range it.groups {
			it.publishGroup(pos, offsets, codes, oids)
		}
	} else {
		for i := 0; i < n; i++ {
			it.publishOne(pos, i, codes, oids)
		}
	}

	for i := 0; i < n; i++ {
		it.queue.dequeue()
	}
	if it.observer != nil {
		coalesced := 0
		if it.coalesce {
			coalesced = n - len(it.groups)
		}
		it.observer.ObserveBatch(uint32(n), uint32(coalesced))
	}
}

// launch starts the coroutine fulfilling the request at batch offset i,
// writing its result into codes[i]/oids[i]. Indexes without coroutine
// support are probed synchronously in place.
func (it *indexThread) launch(pos uint64, i int, codes []Code, oids []OID, sched *coroScheduler) {
	req := it.queue.peek(pos + uint64(i))
	ci, ok := req.index.(CoroutineIndex)
	switch req.kind {
	case kindGet:
		if ok {
			sched.add(ci.CoroGetOID(req.key, req.txn.XIDContext(), &oids[i], &codes[i]))
		} else {
			oids[i], codes[i] = req.index.GetOID(req.key, req.txn.XIDContext())
		}
	case kindInsert:
		if ok {
			sched.add(ci.CoroInsertIfAbsent(req.txn, req.key, *req.oid, &codes[i]))
		} else if req.index.InsertIfAbsent(req.txn, req.key, *req.oid) {
			codes[i] = CodeTrue
		} else {
			codes[i] = CodeFalse
		}
	}
}

// publishOne delivers the settled result for the request at offset i.
func (it *indexThread) publishOne(pos uint64, i int, codes []Code, oids []OID) {
	req := it.queue.peek(pos + uint64(i))
	code := codes[i]
	if code == CodeInvalid {
		panic("dia: coroutine completed without publishing a code")
	}
	if req.kind == kindGet {
		*req.oid = oids[i]
	}
	req.rc.publish(code)
	if it.observer != nil {
		switch req.kind {
		case kindGet:
			it.observer.ObserveGet(0, code == CodeTrue)
		case kindInsert:
			it.observer.ObserveInsert(0, code == CodeTrue)
		}
	}
}

// publishGroup delivers a coalesce group: the first request's result came
// from its coroutine; the rest replay against the recorded history with
// the same reuse rules as the serial coalescing handler.
func (it *indexThread) publishGroup(pos uint64, offsets []int, codes []Code, oids []OID) {
	first := offsets[0]
	req := it.queue.peek(pos + uint64(first))
	code := codes[first]
	if code == CodeInvalid {
		panic("dia: coroutine completed without publishing a code")
	}

	var st groupState
	st.code = code
	if code == CodeTrue {
		if req.kind == kindInsert {
			st.insertOK = true
			st.oid = *req.oid
		} else {
			st.oid = oids[first]
		}
	}
	if req.kind == kindGet {
		*req.oid = oids[first]
	}
	req.rc.publish(code)
	if it.observer != nil {
		switch req.kind {
		case kindGet:
			it.observer.ObserveGet(0, code == CodeTrue)
		case kindInsert:
			it.observer.ObserveInsert(0, code == CodeTrue)
		}
	}

	if len(offsets) > 1 {
		it.replayRequests(pos, offsets[1:], &st)
	}
}
