package mnthr

// context.go implements the "machine context switch" of §3/§9 as a
// goroutine-per-fiber handoff over unbuffered channels: only one
// fiber's goroutine is ever runnable at a time, and control passes
// back and forth across resumeCh exactly the way a real swapcontext(3)
// would pass a CPU. This is the realization §9's design notes
// explicitly sanction ("implementers may represent each fiber as a
// task/goroutine and use a channel handoff instead of a raw context
// switch"), grounded on the goroutine+channel fiber pattern common to
// the example corpus (e.g. thanhhungg97-jvm's Fiber.wakeupChan and
// phroun-pawscript's FiberHandle.ResumeChan).
//
// Each Fiber owns one resumeCh. Resuming a fiber sends on its resumeCh;
// the fiber's goroutine, parked on a receive from that same channel,
// wakes and becomes "the" running fiber again. A fiber that wants to
// suspend sends nothing — it blocks on its own next receive, and it is
// the driver's job (Runtime.runFiber) to always eventually send.

// spawnContext starts f's goroutine. The goroutine blocks immediately
// until the driver performs the first resume.
func (rt *Runtime) spawnContext(f *Fiber) {
	f.resumeCh = make(chan struct{})
	go rt.fiberMain(f)
}

// fiberMain is the trampoline every fiber goroutine runs. It waits for
// its first resume, runs the entry function to completion (the model
// has no mid-function preemption: a fiber only "returns control"
// through one of the blocking calls in api.go/sync.go, each of which
// calls rt.suspend itself), then reports completion back to the driver.
func (rt *Runtime) fiberMain(f *Fiber) {
	<-f.resumeCh
	rc := f.entry(f.argv)
	rt.finishFiber(f, rc)
}

// resume hands control to f and blocks the caller (the driver
// goroutine) until f next suspends or finishes. Exactly one resume may
// be outstanding at a time — the driver never resumes two fibers
// concurrently, which is what makes the rest of the scheduler state
// safe to touch without locks.
func (rt *Runtime) resume(f *Fiber) {
	done := make(chan struct{})
	f.onDriverReturn = done
	f.resumeCh <- struct{}{}
	<-done
}

// suspend is called from inside a fiber's own goroutine (via api.go's
// blocking primitives) to hand control back to the driver and park
// until resumed again. It must only ever be invoked by the fiber that
// currently holds the token.
func (rt *Runtime) suspend(f *Fiber) {
	done := f.onDriverReturn
	f.onDriverReturn = nil
	done <- struct{}{}
	<-f.resumeCh
}

// finishFiber is invoked from inside the finishing fiber's own
// goroutine once its entry function has returned; it hands control
// back to the driver one last time (marking terminal status first so
// the driver's post-resume bookkeeping sees it) and then the goroutine
// exits for good — no further receive from resumeCh will ever occur.
func (rt *Runtime) finishFiber(f *Fiber, rc int) {
	f.retval = rc
	f.phase = PhaseDormant
	done := f.onDriverReturn
	f.onDriverReturn = nil
	f.terminal = true
	done <- struct{}{}
}
