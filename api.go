package mnthr

// api.go is the fiber-facing half of the scheduler: every function
// here runs from inside a fiber's own goroutine and eventually calls
// rt.suspend to hand the token back to the driver, mirroring the
// blocking calls a real cooperative-fiber library (mnthr's own
// sleep/wait_for/join/peek) exposes to its callers.

// Sleep suspends the current fiber until now()+ticks, or forever if
// ticks is negative (§6 sleep / DeadlineForever).
func (rt *Runtime) Sleep(ticks int64) RC {
	f := rt.requireCurrent("sleep")
	deadline := DeadlineForever
	if ticks >= 0 {
		deadline = rt.clock.Now() + ticks
	}
	f.phase = PhaseSleep
	f.waitTimeoutRC = RCTimedOut
	rt.sleepq.enqueue(f, deadline, f.prio)
	rt.suspend(f)
	return f.rc
}

// Yield gives up the remainder of this turn, resuming on the next
// scheduler pass without sleeping (§6 yield: deadline = RESUME_NOW).
func (rt *Runtime) Yield() {
	f := rt.requireCurrent("yield")
	f.phase = PhaseSleep
	f.waitTimeoutRC = RCOK
	rt.sleepq.enqueue(f, DeadlineResumeNow, false)
	rt.suspend(f)
}

// Giveup abandons the fiber entirely: control never returns to the
// caller. It is equivalent to the entry function returning immediately
// with rc, without unwinding any of the caller's own deferred cleanup
// — callers that need cleanup should return normally instead (§6
// giveup's documented caveat).
func (rt *Runtime) Giveup(rc int) {
	f := rt.requireCurrent("giveup")
	rt.finishFiber(f, rc)
	<-f.resumeCh // never actually resumed again; blocks the goroutine forever
}

// Join blocks the current fiber until target finishes, returning the
// target's retval and RCExited, or RCJoinFailure if target is already
// gone (§7 join).
func (rt *Runtime) Join(target Handle) (int, RC) {
	return rt.joinWithTimeout(target, -1)
}

// JoinWithTimeout is Join bounded by a timeout in ticks; on expiry the
// caller gets RCTimedOut and the target is left running (§7
// join_with_timeout).
func (rt *Runtime) JoinWithTimeout(target Handle, ticks int64) (int, RC) {
	return rt.joinWithTimeout(target, ticks)
}

func (rt *Runtime) joinWithTimeout(target Handle, ticks int64) (int, RC) {
	self := rt.requireCurrent("join")
	tf := rt.resolve(target)
	if tf == nil {
		return 0, RCJoinFailure
	}
	self.phase = PhaseJoin
	self.waitTimeoutRC = RCTimedOut
	tf.joiners.appendSelf(self)
	if ticks >= 0 {
		rt.sleepq.enqueue(self, rt.clock.Now()+ticks, false)
	}
	rt.suspend(self)
	if self.rc == RCTimedOut {
		self.detach() // pull out of tf.joiners; the timeout already fired first
		return 0, RCTimedOut
	}
	return self.retval, self.rc
}

// SetInterrupt marks target interrupted (RCUserInterrupted) and, if it
// is currently in an externally resumable phase, wakes it immediately
// (§7 set_interrupt). Otherwise only target's rc is written: a fiber
// already queued to run gets it back from its pending suspension, while
// a fiber in an I/O wait has it replaced by the rc its readiness event
// delivers.
func (rt *Runtime) SetInterrupt(target Handle) {
	if f := rt.resolve(target); f != nil {
		rt.setInterruptRC(f, RCUserInterrupted)
	}
}

// SetInterruptAndJoin is SetInterrupt immediately followed by an
// unbounded Join — the caller waits for target to actually finish
// unwinding (§7 set_interrupt_and_join).
func (rt *Runtime) SetInterruptAndJoin(target Handle) (int, RC) {
	rt.SetInterrupt(target)
	return rt.Join(target)
}

// SetInterruptAndJoinWithTimeout interrupts target and joins it with a
// bound: if the timeout wins, the caller gets RCWaitTimeout while
// target keeps the RCUserInterrupted it was already given eagerly
// (§7's distinct rc convention versus WaitFor/Peek).
func (rt *Runtime) SetInterruptAndJoinWithTimeout(target Handle, ticks int64) (int, RC) {
	rt.SetInterrupt(target)
	retval, rc := rt.joinWithTimeout(target, ticks)
	if rc == RCTimedOut {
		return retval, RCWaitTimeout
	}
	return retval, rc
}

// WaitFor is SetInterruptAndJoinWithTimeout's gentler cousin: it joins
// target with a timeout but only delivers the interrupt if the timeout
// actually fires, so a target that finishes on its own within the
// window is never touched. On timeout, target gets RCTimedOut and the
// caller gets RCWaitTimeout (§7 wait_for's bespoke rc pairing, distinct
// from the eager-interrupt family above).
func (rt *Runtime) WaitFor(target Handle, ticks int64) (int, RC) {
	self := rt.requireCurrent("wait_for")
	tf := rt.resolve(target)
	if tf == nil {
		return 0, RCJoinFailure
	}
	self.phase = PhaseWaitFor
	self.waitTimeoutRC = RCWaitTimeout
	self.onTimeoutInterrupt = tf
	tf.joiners.appendSelf(self)
	if ticks >= 0 {
		rt.sleepq.enqueue(self, rt.clock.Now()+ticks, false)
	}
	rt.suspend(self)
	self.onTimeoutInterrupt = nil
	if self.rc == RCWaitTimeout {
		self.detach()
		return 0, RCWaitTimeout
	}
	return self.retval, self.rc
}

// Peek is WaitFor without any interrupt side effect at all: a purely
// passive bounded wait. On timeout both sides are left exactly as they
// were, and the caller gets RCWaitTimeout (§7 peek).
func (rt *Runtime) Peek(target Handle, ticks int64) (int, RC) {
	self := rt.requireCurrent("peek")
	tf := rt.resolve(target)
	if tf == nil {
		return 0, RCJoinFailure
	}
	self.phase = PhasePeek
	self.waitTimeoutRC = RCWaitTimeout
	tf.joiners.appendSelf(self)
	if ticks >= 0 {
		rt.sleepq.enqueue(self, rt.clock.Now()+ticks, false)
	}
	rt.suspend(self)
	if self.rc == RCWaitTimeout {
		self.detach()
		return 0, RCWaitTimeout
	}
	return self.retval, self.rc
}

// WaitForAll is the supplemented bulk-join convenience (SPEC_FULL.md,
// grounded on thanhhungg97-jvm's FiberGroup): it joins every handle in
// order and returns their retvals and rcs in the same order. A handle
// that is already dead reports RCJoinFailure in its slot without
// affecting the others.
func (rt *Runtime) WaitForAll(targets []Handle) ([]int, []RC) {
	retvals := make([]int, len(targets))
	rcs := make([]RC, len(targets))
	for i, h := range targets {
		retvals[i], rcs[i] = rt.Join(h)
	}
	return retvals, rcs
}
