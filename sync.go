package mnthr

// sync.go implements the classic synchronization primitives of §8,
// each built directly on waitQueue the way the scheduler itself builds
// Join on Fiber.joiners — there is no lower-level lock underneath any
// of these, because only one fiber (or the driver) ever runs at a
// time.

// Signal is a one-shot, edge-triggered wakeup: Wait blocks until the
// next Fire, Fire wakes every current waiter and otherwise leaves no
// memory of having fired (§8 Signal — distinct from a persistent flag).
type Signal struct {
	rt *Runtime
	wq waitQueue
}

func (rt *Runtime) NewSignal() *Signal { return &Signal{rt: rt} }

// Wait blocks the current fiber until the next Fire call.
func (s *Signal) Wait() RC {
	f := s.rt.requireCurrent("signal_wait")
	f.phase = PhaseSignalSubscribe
	s.wq.appendSelf(f)
	s.rt.suspend(f)
	return f.rc
}

// WaitTimeout is Wait bounded by ticks; RCTimedOut on expiry.
func (s *Signal) WaitTimeout(ticks int64) RC {
	f := s.rt.requireCurrent("signal_wait")
	f.phase = PhaseSignalSubscribe
	f.waitTimeoutRC = RCTimedOut
	s.wq.appendSelf(f)
	s.rt.sleepq.enqueue(f, s.rt.clock.Now()+ticks, false)
	s.rt.suspend(f)
	return f.rc
}

// Fire wakes every fiber currently waiting, in FIFO order.
func (s *Signal) Fire() {
	for _, f := range s.wq.drainAll() {
		f.rc = RCOK
		s.rt.markRunnable(f)
	}
}

// CondVar pairs a Signal with user-managed predicate state: Wait
// atomically (from the scheduler's point of view — no other fiber can
// run in between) re-checks nothing itself, matching the host
// language's usual condvar contract that callers re-check their own
// predicate in a loop (§8 CondVar).
type CondVar struct {
	sig *Signal
}

func (rt *Runtime) NewCondVar() *CondVar { return &CondVar{sig: rt.NewSignal()} }

func (c *CondVar) Wait() RC                   { return c.sig.Wait() }
func (c *CondVar) WaitTimeout(ticks int64) RC { return c.sig.WaitTimeout(ticks) }

// Signal wakes the longest-waiting fiber, if any.
func (c *CondVar) Signal() {
	if f := c.sig.wq.popFront(); f != nil {
		f.rc = RCOK
		c.sig.rt.markRunnable(f)
	}
}

// Broadcast wakes every waiting fiber, in FIFO order.
func (c *CondVar) Broadcast() { c.sig.Fire() }

// Semaphore is the classic counting semaphore: Acquire blocks while
// the count is zero, Release hands the slot to the longest waiter if
// there is one and otherwise increments the count (§8 Semaphore).
type Semaphore struct {
	rt    *Runtime
	count int
	wq    waitQueue
}

func (rt *Runtime) NewSemaphore(initial int) *Semaphore {
	return &Semaphore{rt: rt, count: initial}
}

// Acquire blocks until count > 0, then decrements it.
func (s *Semaphore) Acquire() RC {
	if s.count > 0 {
		s.count--
		return RCOK
	}
	f := s.rt.requireCurrent("sem_acquire")
	f.phase = PhaseCondWait
	s.wq.appendSelf(f)
	s.rt.suspend(f)
	return f.rc
}

// TryAcquire never blocks: it decrements and returns RCOK if count > 0,
// otherwise RCTryAcquireFail immediately (§8 try_acquire).
func (s *Semaphore) TryAcquire() RC {
	if s.count > 0 {
		s.count--
		return RCOK
	}
	return RCTryAcquireFail
}

// Release increments the count and, if anyone is waiting, wakes the
// longest-waiting fiber and hands it the slot directly rather than
// letting it race a TryAcquire caller for the incremented count.
func (s *Semaphore) Release() {
	if f := s.wq.popFront(); f != nil {
		f.rc = RCOK
		s.rt.markRunnable(f)
		return
	}
	s.count++
}

// InvertedSemaphore tracks outstanding work instead of available
// slots: Increment/Decrement adjust an internal counter, and Wait
// blocks until it reaches zero (§8 InvertedSemaphore — e.g. "wait for
// N outstanding requests to finish").
type InvertedSemaphore struct {
	rt      *Runtime
	pending int
	wq      waitQueue
}

func (rt *Runtime) NewInvertedSemaphore() *InvertedSemaphore {
	return &InvertedSemaphore{rt: rt}
}

func (s *InvertedSemaphore) Increment() { s.pending++ }

// Decrement lowers the pending count and, once it reaches zero, wakes
// every waiter.
func (s *InvertedSemaphore) Decrement() {
	if s.pending > 0 {
		s.pending--
	}
	if s.pending == 0 {
		for _, f := range s.wq.drainAll() {
			f.rc = RCOK
			s.rt.markRunnable(f)
		}
	}
}

// Wait blocks until the pending count is zero.
func (s *InvertedSemaphore) Wait() RC {
	if s.pending == 0 {
		return RCOK
	}
	f := s.rt.requireCurrent("isem_wait")
	f.phase = PhaseCondWait
	s.wq.appendSelf(f)
	s.rt.suspend(f)
	return f.rc
}

// RWLock is a single-writer/multiple-reader lock (§8 RWLock). Readers
// queue behind any current or waiting writer to avoid starving writers
// indefinitely, matching the fairness note in §8's write-up.
type RWLock struct {
	rt      *Runtime
	readers int
	writing bool
	readWQ  waitQueue
	writeWQ waitQueue
}

func (rt *Runtime) NewRWLock() *RWLock { return &RWLock{rt: rt} }

// RLock blocks while a writer holds or is waiting for the lock.
func (l *RWLock) RLock() RC {
	if !l.writing && l.writeWQ.len() == 0 {
		l.readers++
		return RCOK
	}
	f := l.rt.requireCurrent("rwlock_rlock")
	f.phase = PhaseCondWait
	l.readWQ.appendSelf(f)
	l.rt.suspend(f)
	return f.rc
}

// TryRLock never blocks: RCOK if no writer holds or waits for the
// lock, otherwise RCTryAcquireReadFail immediately.
func (l *RWLock) TryRLock() RC {
	if !l.writing && l.writeWQ.len() == 0 {
		l.readers++
		return RCOK
	}
	return RCTryAcquireReadFail
}

// RUnlock releases one reader's hold, waking a waiting writer once the
// last reader leaves.
func (l *RWLock) RUnlock() {
	if l.readers > 0 {
		l.readers--
	}
	if l.readers == 0 {
		l.wakeNextWriter()
	}
}

// Lock blocks until no reader or writer holds the lock.
func (l *RWLock) Lock() RC {
	if !l.writing && l.readers == 0 {
		l.writing = true
		return RCOK
	}
	f := l.rt.requireCurrent("rwlock_lock")
	f.phase = PhaseCondWait
	l.writeWQ.appendSelf(f)
	l.rt.suspend(f)
	return f.rc
}

// TryLock never blocks: RCOK if the lock is entirely free, otherwise
// RCTryAcquireWriteFail immediately.
func (l *RWLock) TryLock() RC {
	if !l.writing && l.readers == 0 {
		l.writing = true
		return RCOK
	}
	return RCTryAcquireWriteFail
}

// Unlock releases a writer's hold, preferring to wake the next queued
// writer and only then releasing every waiting reader together.
func (l *RWLock) Unlock() {
	l.writing = false
	if !l.wakeNextWriter() {
		for _, f := range l.readWQ.drainAll() {
			l.readers++
			f.rc = RCOK
			l.rt.markRunnable(f)
		}
	}
}

func (l *RWLock) wakeNextWriter() bool {
	f := l.writeWQ.popFront()
	if f == nil {
		return false
	}
	l.writing = true
	f.rc = RCOK
	l.rt.markRunnable(f)
	return true
}

// Generator adapts the spec's coroutine-style "generator" fiber (§8)
// into a rendezvous between a producer fiber and whichever fiber calls
// Next: both sides suspend through the ordinary Signal mechanism, so a
// generator is just another pair of cooperatively scheduled fibers —
// there is deliberately no raw Go channel handoff here, since that
// would let the producer and a Next caller run as two truly concurrent
// goroutines outside the driver's single-token model.
type Generator struct {
	rt       *Runtime
	handle   Handle
	slot     interface{}
	hasValue bool
	finished bool
	produced *Signal
	consumed *Signal
}

// NewGenerator spawns body as a fiber that produces values via the
// emit function passed to it; Next receives them one at a time.
func (rt *Runtime) NewGenerator(body func(emit func(interface{}))) (*Generator, error) {
	g := &Generator{rt: rt, produced: rt.NewSignal(), consumed: rt.NewSignal()}
	h, err := rt.Spawn(func(argv []interface{}) int {
		body(func(v interface{}) {
			g.slot = v
			g.hasValue = true
			g.produced.Fire()
			g.consumed.Wait()
		})
		g.finished = true
		g.produced.Fire()
		return 0
	})
	if err != nil {
		return nil, err
	}
	g.handle = h
	return g, nil
}

// Next blocks the calling fiber until the generator emits its next
// value, reporting ok=false once the generator has finished.
func (g *Generator) Next() (value interface{}, ok bool) {
	for !g.hasValue && !g.finished {
		g.produced.Wait()
	}
	if g.finished && !g.hasValue {
		return nil, false
	}
	v := g.slot
	g.hasValue = false
	g.consumed.Fire()
	return v, true
}
