package mnthr

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config configures a Runtime (§6 set_stacksize and friends — the
// scheduler itself takes no other tunables per spec §1's non-goals
// around configuration surface). Field names mirror the teacher's
// NewWatcherSize-style sizing knob.
type Config struct {
	// DefaultStackSize is the guard-paged scratch region size (§3,
	// clamped to [2, 2048] pages by clampStackSize) new fibers get
	// unless overridden per-spawn.
	DefaultStackSize int

	// Logger receives non-fatal diagnostics (poller errors, gc
	// failures). Defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns the zero-tuning configuration: an 8-page stack
// and a no-op logger.
func DefaultConfig() Config {
	return Config{DefaultStackSize: defaultStackSize, Logger: defaultLogger()}
}

// Stats is a supplemented, read-only snapshot of scheduler activity
// (SPEC_FULL.md "scheduler stats"), grounded on thanhhungg97-jvm's
// SchedulerStats but re-derived from this runtime's actual counters
// rather than busy-polled.
type Stats struct {
	Spawned   int64
	Finished  int64
	Sleeping  int
	Blocked   int
	Runnable  int
	Loops     int64
	PollWakes int64
}

// Runtime is the single-threaded scheduler: one Loop goroutine (the
// "driver") plus one supervised poller-feeder goroutine, started by New
// and stopped by Close (§4.3/§4.5's concurrent I/O wait). Every other piece of
// state — sleep queue, wait queues, fiber table, pool — is touched
// only from the driver, so none of it needs a lock; the boundary is
// enforced by the budgetCh/pollEvents ping-pong in feedPoller/Loop.
type Runtime struct {
	cfg   Config
	clock *Clock
	log   *zap.Logger

	pool    fiberPool
	byID    map[int64]*Fiber
	nextID  int64
	nextGen uint64

	sleepq *sleepQueue
	runq   waitQueue // FIFO of fibers ready to run this turn

	current *Fiber // the fiber presently holding the token, nil in the driver

	poller *poller

	budgetCh   chan time.Duration
	pollEvents chan []readyEvent

	eg     *errgroup.Group
	egCtx  context.Context
	cancel context.CancelFunc

	dieOnce sync.Once
	closed  bool

	// shuttingDown is the shutdown-request flag (§6 shutdown/shutting_down):
	// set by Shutdown, observed by Loop at the wait-bound step (§4.5 step
	// 2) so a driver idling in the poller still notices a shutdown raised
	// from a fiber on its very next turn.
	shuttingDown bool

	stats Stats
}

// New constructs a Runtime and brings up its poller backend. Callers
// must call Loop to actually run fibers, and Close/Shutdown when done
// (§doc.go's usage sketch).
func New(cfg Config) (*Runtime, error) {
	if cfg.DefaultStackSize == 0 {
		cfg.DefaultStackSize = defaultStackSize
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	p, err := newPoller()
	if err != nil {
		return nil, errors.Wrap(err, "mnthr: new runtime")
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	rt := &Runtime{
		cfg:        cfg,
		clock:      newClock(),
		log:        cfg.Logger,
		byID:       make(map[int64]*Fiber),
		sleepq:     newSleepQueue(),
		poller:     p,
		budgetCh:   make(chan time.Duration),
		pollEvents: make(chan []readyEvent),
		eg:         eg,
		egCtx:      egCtx,
		cancel:     cancel,
	}
	rt.pool.init()
	rt.eg.Go(func() error { return rt.feedPoller() })
	return rt, nil
}

// requireCurrent panics with an invariant-violation error (fatalf) if
// called outside a running fiber's own goroutine — every Fiber-scoped
// API (SetRetval, Sleep, Join, ...) is only meaningful there.
func (rt *Runtime) requireCurrent(op string) *Fiber {
	if rt.current == nil {
		fatalf("%s called with no fiber running", op)
	}
	return rt.current
}

// Me returns a Handle to the currently running fiber.
func (rt *Runtime) Me() Handle { return handleOf(rt.requireCurrent("me")) }

// New creates a fiber record (reusing one from the free list when
// available — §4.1) in PhaseDormant without scheduling it: "does not
// run the fiber." The returned handle must be passed to Run before the
// fiber executes (§6 Constructors: new(name, f, argc, ...) -> handle).
func (rt *Runtime) New(entry FiberFunc, argv ...interface{}) (Handle, error) {
	return rt.newFiber(entry, rt.cfg.DefaultStackSize, argv, true)
}

// NewSized is New with an explicit scratch-stack size, clamped per
// clampStackSize (§6 set_stacksize's per-call analogue).
func (rt *Runtime) NewSized(entry FiberFunc, stackSize int, argv ...interface{}) (Handle, error) {
	return rt.newFiber(entry, stackSize, argv, true)
}

// NewUnpooled is New's "signal" variant (§6 Constructors: "A 'signal'
// variant bypasses the free list to return a record not subject to
// recycling"): the returned record is always freshly allocated and,
// once it finalizes, its stack is unmapped directly rather than being
// handed back to the pool — suited to a fiber record a caller wants to
// keep inspecting (retval, stats) past its own lifetime without racing
// a later Spawn that reuses the same slot.
func (rt *Runtime) NewUnpooled(entry FiberFunc, argv ...interface{}) (Handle, error) {
	return rt.newFiber(entry, rt.cfg.DefaultStackSize, argv, false)
}

// Run transitions a DORMANT fiber to runnable (§6 run(ctx): "precondition
// phase==DORMANT; otherwise it is a programming error; delegates to
// set_resume"). Calling it on a fiber that has already been run, has
// exited, or on a stale handle is an invariant violation.
func (rt *Runtime) Run(h Handle) {
	f := rt.resolve(h)
	if f == nil || f.phase != PhaseDormant {
		fatalf("run called on a handle not in DORMANT phase")
	}
	rt.markRunnable(f)
}

// Spawn is new + set_resume (§6 "spawn(name, f, argc, ...) -> handle"):
// it creates a fiber and schedules it to run on the next turn.
func (rt *Runtime) Spawn(entry FiberFunc, argv ...interface{}) (Handle, error) {
	h, err := rt.New(entry, argv...)
	if err != nil {
		return Handle{}, err
	}
	rt.Run(h)
	return h, nil
}

// SpawnSized is Spawn with an explicit scratch-stack size.
func (rt *Runtime) SpawnSized(entry FiberFunc, stackSize int, argv ...interface{}) (Handle, error) {
	h, err := rt.NewSized(entry, stackSize, argv...)
	if err != nil {
		return Handle{}, err
	}
	rt.Run(h)
	return h, nil
}

// SpawnUnpooled is NewUnpooled + set_resume.
func (rt *Runtime) SpawnUnpooled(entry FiberFunc, argv ...interface{}) (Handle, error) {
	h, err := rt.NewUnpooled(entry, argv...)
	if err != nil {
		return Handle{}, err
	}
	rt.Run(h)
	return h, nil
}

func (rt *Runtime) newFiber(entry FiberFunc, stackSize int, argv []interface{}, recyclable bool) (Handle, error) {
	var f *Fiber
	if recyclable {
		f = rt.pool.acquire()
	}
	if f == nil {
		f = &Fiber{}
	} else if f.stack != nil {
		// A reused record keeps its previous (already-finalized) stack
		// mapping around until now; release it before replacing it with
		// the freshly sized one below, or it leaks.
		if err := f.stack.unmap(); err != nil {
			rt.log.Warn("spawn: failed to release recycled fiber stack")
		}
	}
	stack, err := newStackRegion(stackSize)
	if err != nil {
		return Handle{}, err
	}
	rt.nextID++
	rt.nextGen++
	*f = Fiber{
		id:        rt.nextID,
		gen:       rt.nextGen,
		entry:     entry,
		argv:      argv,
		phase:     PhaseDormant,
		deadline:  DeadlineUndefined,
		sqIndex:   -1,
		rt:        rt,
		stack:     stack,
		noRecycle: !recyclable,
	}
	rt.byID[f.id] = f
	rt.stats.Spawned++
	rt.spawnContext(f)
	return handleOf(f), nil
}

// markRunnable appends f to this turn's run queue and sets PhaseResumed.
func (rt *Runtime) markRunnable(f *Fiber) {
	rt.sleepq.remove(f)
	f.detach()
	f.phase = PhaseResumed
	rt.runq.appendSelf(f)
}

// Loop drives the scheduler until every spawned fiber has finished (or
// Shutdown/Close is called). It interleaves expired-sleep dispatch,
// ready-fiber execution, and a bounded block in the poller for
// min(next-deadline, I/O) exactly as §4.3/§4.5 require, modeled on the
// teacher's watcher.loop() select-driven turn.
func (rt *Runtime) Loop() error {
	for {
		if rt.closed {
			return ErrClosed
		}
		rt.stats.Loops++
		now := rt.clock.refresh()

		rt.dispatchExpired(now)

		for rt.runq.len() > 0 {
			f := rt.runq.popFront()
			rt.runFiber(f)
		}

		// Fibers created by New and not yet Run stay DORMANT in byID;
		// they do not keep Loop going.
		live := false
		for _, f := range rt.byID {
			if f.phase != PhaseDormant {
				live = true
				break
			}
		}
		if !live {
			return nil
		}

		budget := rt.nextBudget(now)
		if rt.shuttingDown {
			// §4.5 step 2: "If shutdown: break." Fibers already moved onto
			// the runq this turn (by Shutdown's own interrupts, or by
			// dispatchExpired above) were already given their turn by the
			// drain loop above; anything still sleeping or poller-blocked
			// is abandoned rather than waited out.
			return nil
		}
		events, err := rt.waitPoller(budget)
		if err != nil {
			return err
		}
		rt.stats.PollWakes++
		rt.dispatchEvents(events)
	}
}

// nextBudget computes how long the driver may block in the poller: up
// to the earliest sleep-queue deadline, zero if fibers are already
// runnable, or unbounded if nothing is sleeping (§4.3).
func (rt *Runtime) nextBudget(now int64) time.Duration {
	host := rt.sleepq.min()
	if host == nil {
		return -1 // unbounded
	}
	if host.deadline <= now {
		return 0
	}
	return time.Duration(host.deadline - now)
}

// dispatchExpired drains every sleep-queue bucket whose deadline has
// passed and marks its members runnable, host first then the rest of
// its bucket in chain order (§4.2's resolved tie order).
func (rt *Runtime) dispatchExpired(now int64) {
	for {
		host := rt.sleepq.min()
		if host == nil || host.deadline > now {
			return
		}
		for _, f := range rt.sleepq.drain(host) {
			rt.resolveTimeout(f)
		}
	}
}

// resolveTimeout marks f runnable after its deadline fires, applying
// whichever timeout rc was armed for it (§5's "first write to rc
// wins" race between a sleep-queue deadline and a waitq event).
func (rt *Runtime) resolveTimeout(f *Fiber) {
	f.detach()
	if f.onTimeoutInterrupt != nil {
		target := f.onTimeoutInterrupt
		f.onTimeoutInterrupt = nil
		if target != nil && target.rt == rt {
			rt.setInterruptRC(target, RCTimedOut)
		}
	}
	f.rc = f.waitTimeoutRC
	f.phase = PhaseResumed
	rt.runq.appendSelf(f)
}

// runFiber resumes f for exactly one scheduling turn: control returns
// here either because f suspended again (blocking call in api.go) or
// because it finished.
func (rt *Runtime) runFiber(f *Fiber) {
	prev := rt.current
	rt.current = f
	rt.resume(f)
	rt.current = prev
	if f.terminal {
		rt.finalize(f)
	}
}

// finalize runs once a fiber's entry function has returned: it wakes
// every joiner with the fiber's retval, frees its stack's generation
// so stale Handles miss cleanly, and returns the record to the pool
// (§4.1, §7 join).
func (rt *Runtime) finalize(f *Fiber) {
	rt.stats.Finished++
	delete(rt.byID, f.id)
	for _, j := range f.joiners.drainAll() {
		j.rc = RCExited
		j.retval = f.retval
		rt.markRunnable(j)
	}
	f.gen++ // any outstanding Handle now fails resolve()
	if f.noRecycle {
		// The "signal" variant is never subject to recycling: drop its
		// stack mapping directly instead of parking the record on the
		// pool's free/holding lists.
		if f.stack != nil {
			if err := f.stack.unmap(); err != nil {
				rt.log.Warn("finalize: failed to release unpooled fiber stack")
			}
		}
		return
	}
	rt.pool.release(f)
}

// setInterruptRC is the shared core of SetInterrupt, WaitFor's timeout
// (resolveTimeout) and Shutdown: it
// marks target interrupted with the given rc and, if target is
// externally resumable right now, clears any armed wait (§4.3
// clear_event, "unregister the fiber's current wait, if any; used by
// interrupt") and wakes it immediately.
//
// READ/WRITE/OTHER_POLLER are deliberately excluded from "externally
// resumable" (§"Externally resumable phases"): a fiber blocked in
// wait_for_read/write/events can only be woken by the fd itself
// becoming ready, never by an outside set_interrupt. Since those are
// the only phases that ever hold a poller registration, clear_event's
// unregister step on the resumable branch below never has work to do;
// it is written defensively in case a future resumable phase starts
// using reg too.
func (rt *Runtime) setInterruptRC(target *Fiber, rc RC) {
	target.rc = rc
	if target.phase.externallyResumable() {
		if target.reg != nil {
			if target.reg.path != "" {
				_ = rt.poller.unwatchPath(target.reg)
			} else {
				_ = rt.poller.unregister(target.reg)
			}
			target.reg = nil
		}
		rt.sleepq.remove(target)
		target.detach()
		target.phase = PhaseResumed
		rt.runq.appendSelf(target)
	}
}

// waitPoller asks the feeder goroutine to block for up to budget (a
// negative budget means unbounded) and returns the events it collects,
// unblocking early on Shutdown/Close.
func (rt *Runtime) waitPoller(budget time.Duration) ([]readyEvent, error) {
	select {
	case rt.budgetCh <- budget:
	case <-rt.egCtx.Done():
		return nil, ErrClosed
	}
	select {
	case events := <-rt.pollEvents:
		return events, nil
	case <-rt.egCtx.Done():
		return nil, ErrClosed
	}
}

// feedPoller is the supervised goroutine that actually blocks in the
// kernel poller, decoupled from the driver by the budgetCh/pollEvents
// ping-pong so the driver never itself calls a blocking syscall — the
// same split the teacher keeps between watcher.loop() and its pfd
// poller, generalized into an explicit request/response protocol so a
// bounded (not just infinite-or-zero) wait is expressible.
func (rt *Runtime) feedPoller() error {
	for {
		select {
		case budget := <-rt.budgetCh:
			events, err := rt.poller.wait(budget)
			if err != nil && rt.egCtx.Err() == nil {
				rt.log.Warn("poller wait failed", zap.Error(err))
				return err
			}
			select {
			case rt.pollEvents <- events:
			case <-rt.egCtx.Done():
				return nil
			}
		case <-rt.egCtx.Done():
			return nil
		}
	}
}

// dispatchEvents turns poller-ready events into runnable fibers
// (§4.2 set_resume_fast). f.detach is idempotent (waitq.go), so a
// fiber appearing twice in the same batch — or already pulled onto
// the runq by an earlier event — is harmlessly relocated rather than
// corrupted; this is this port's realization of the duplicate-wakeup
// coalescing §4.2 describes as insert_once.
//
// §9 "Combined-event ambiguity": a delivery carrying EventError is
// reported as rc=POLLER with the partial readiness mask cleared,
// since the caller can't trust a read/write bit delivered alongside
// an error.
func (rt *Runtime) dispatchEvents(events []readyEvent) {
	for _, ev := range events {
		f := ev.reg.fiber
		if f == nil {
			continue
		}
		if ev.mask&EventError != 0 {
			f.lastEventMask = 0
			f.lastPathMask = 0
			f.rc = RCPoller
		} else {
			f.lastEventMask = ev.mask
			f.lastPathMask = ev.pathMask
			f.rc = RCOK
		}
		rt.sleepq.remove(f)
		f.detach()
		f.phase = PhaseResumed
		rt.runq.appendSelf(f)
	}
}

// ShuttingDown reports whether Shutdown or Close has been requested
// (§6 shutting_down(): observes the flag Shutdown sets).
func (rt *Runtime) ShuttingDown() bool { return rt.shuttingDown || rt.closed }

// Shutdown requests that Loop stop (§6 shutdown()): it sets the
// shutdown flag, interrupts every live fiber (RCUserInterrupted) so
// they unwind on their next turn, and wakes the poller in case the
// driver is currently blocked in an otherwise-unbounded wait (§4.5:
// "to unblock an idle poll, shutdown also [wakes the poller]"). It
// does not itself block.
func (rt *Runtime) Shutdown() {
	rt.shuttingDown = true
	for _, f := range rt.byID {
		rt.setInterruptRC(f, RCUserInterrupted)
	}
	_ = rt.poller.wake()
}

// Close stops the poller-feeder goroutine and releases the poller and
// every pooled fiber stack (§"Fini" in SPEC_FULL.md's AMBIENT STACK).
// The feeder's error and the poller close error are aggregated into
// the returned error; stack unmap failures are only logged.
func (rt *Runtime) Close() error {
	var result *multierror.Error
	rt.dieOnce.Do(func() {
		rt.closed = true
		rt.cancel()
		_ = rt.poller.wake()
		if err := rt.eg.Wait(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := rt.poller.close(); err != nil {
			result = multierror.Append(result, err)
		}
		// Unmaps every unpinned fiber stack; records still pinned
		// (abac > 0) are left on the holding list, leaked intentionally
		// per the pin contract (spec.md fini()).
		rt.GC()
	})
	if result != nil {
		return result.ErrorOrNil()
	}
	return nil
}

// Stats returns a snapshot of current scheduler activity.
func (rt *Runtime) Stats() Stats {
	s := rt.stats
	s.Sleeping = rt.sleepq.Len()
	s.Runnable = rt.runq.len()
	s.Blocked = len(rt.byID) - s.Sleeping - s.Runnable
	return s
}
