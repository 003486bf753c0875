package mnthr

// Phase is a fiber's lifecycle phase (§3: "one of {running, sleeping
// with deadline, waiting on I/O, waiting on a synchronization waitq,
// dormant, resume-pending}" refined into the concrete phase set below).
type Phase int32

const (
	PhaseDormant Phase = iota
	PhaseResumed
	PhaseRead
	PhaseWrite
	PhaseOtherPoller
	PhaseSleep
	PhaseSetResume
	PhaseSetInterrupt
	PhaseSignalSubscribe
	PhaseJoin
	PhaseJoinInterrupted
	PhaseCondWait
	PhaseWaitFor
	PhasePeek
)

func (p Phase) String() string {
	switch p {
	case PhaseDormant:
		return "DORMANT"
	case PhaseResumed:
		return "RESUMED"
	case PhaseRead:
		return "READ"
	case PhaseWrite:
		return "WRITE"
	case PhaseOtherPoller:
		return "OTHER_POLLER"
	case PhaseSleep:
		return "SLEEP"
	case PhaseSetResume:
		return "SET_RESUME"
	case PhaseSetInterrupt:
		return "SET_INTERRUPT"
	case PhaseSignalSubscribe:
		return "SIGNAL_SUBSCRIBE"
	case PhaseJoin:
		return "JOIN"
	case PhaseJoinInterrupted:
		return "JOIN_INTERRUPTED"
	case PhaseCondWait:
		return "CONDWAIT"
	case PhaseWaitFor:
		return "WAITFOR"
	case PhasePeek:
		return "PEEK"
	default:
		return "UNKNOWN"
	}
}

// externallyResumable reports whether set_resume/set_interrupt from
// outside the poller is valid while a fiber sits in this phase (GLOSSARY:
// "Externally resumable phases").
func (p Phase) externallyResumable() bool {
	switch p {
	case PhaseSleep, PhaseSetResume, PhaseSetInterrupt, PhaseSignalSubscribe,
		PhaseJoin, PhaseJoinInterrupted, PhaseCondWait, PhaseWaitFor, PhasePeek:
		return true
	}
	return false
}

// FiberFunc is a fiber's one-shot entry function. argv mirrors the
// spec's "entry function pointer plus an argv vector"; len(argv) stands
// in for argc. The returned int becomes the fiber's final rc.
type FiberFunc func(argv []interface{}) int

const maxNameBytes = 8

func truncName(name string) string {
	b := []byte(name)
	if len(b) > maxNameBytes {
		b = b[:maxNameBytes]
	}
	return string(b)
}

// Fiber is the runtime's internal record for one fiber. External code
// never holds a *Fiber directly — it holds a Handle, validated against
// Fiber.gen on every use, so that a stale reference into a recycled
// record is a benign miss rather than a dangling pointer (§9: "arena +
// generational index").
type Fiber struct {
	id   int64
	gen  uint64
	name string

	entry FiberFunc
	argv  []interface{}

	phase  Phase
	rc     RC
	retval int
	cld    interface{}

	// sleep-queue membership (§3 "deadline", §4.2)
	deadline int64
	prio     bool // true: LIFO/prepend tie-break; false: FIFO/append

	sqIndex  int // index into the runtime's sleep-queue heap, host only
	sqIsHost bool
	sqHost   *Fiber // non-nil when this fiber is a bucket member, not the host
	sqNext   *Fiber // bucket-chain link (host.sqNext is the bucket head)
	sqPrev   *Fiber

	// outer waitq membership: at most one at a time (§3 invariants)
	waitq  *waitQueue
	wqNext *Fiber
	wqPrev *Fiber

	// fibers joined on this one
	joiners waitQueue

	// armed when this fiber is suspended with a race between a sleep-queue
	// deadline and a waitq resumption (join/signal-with-timeout); see
	// Runtime.resolveTimeout and DESIGN.md's note on resolving that race.
	waitTimeoutRC      RC
	onTimeoutInterrupt *Fiber

	// poller attachment (§3 "poller attachment")
	reg           *registration
	lastEventMask eventMask
	lastPathMask  pathEventMask

	pin int32 // abac: non-negative pin count blocking recycle

	// noRecycle marks a record constructed by NewUnpooled/SpawnUnpooled
	// (spec §6 Constructors' "signal" variant): it bypasses the free
	// list entirely, on both ends — acquisition never reuses one, and
	// finalize never returns one — so its identity is never handed to
	// an unrelated later spawn.
	noRecycle bool

	rt *Runtime

	resumeCh       chan struct{}
	onDriverReturn chan struct{} // set by Runtime.resume, consumed by suspend/finishFiber
	terminal       bool          // set once the entry function has returned
	stack          *stackRegion

	freeNext *Fiber // free-list link
}

// Handle is an external, generation-checked reference to a Fiber.
type Handle struct {
	id  int64
	gen uint64
	f   *Fiber
}

// Valid reports whether the handle was ever populated (not whether the
// fiber it names is still alive — use Runtime.IsDead for that).
func (h Handle) Valid() bool { return h.f != nil }

func handleOf(f *Fiber) Handle {
	if f == nil {
		return Handle{}
	}
	return Handle{id: f.id, gen: f.gen, f: f}
}

// resolve turns a Handle back into a live *Fiber, or nil if the handle
// is stale (the slot was recycled since the handle was taken).
func (rt *Runtime) resolve(h Handle) *Fiber {
	if h.f == nil || h.f.id != h.id || h.f.gen != h.gen {
		return nil
	}
	return h.f
}

// SetName sets the fiber's display name, truncated per spec §3 ("short
// display name (≤ ~8 bytes enforced)").
func (rt *Runtime) SetName(h Handle, name string) {
	if f := rt.resolve(h); f != nil {
		f.name = truncName(name)
	}
}

// Name returns the fiber's current display name, or "" for a stale handle.
func (rt *Runtime) Name(h Handle) string {
	if f := rt.resolve(h); f != nil {
		return f.name
	}
	return ""
}

// SetRetval stashes a user-defined value on the currently running fiber.
func (rt *Runtime) SetRetval(v int) { rt.requireCurrent("set_retval").retval = v }

// GetRetval returns the value most recently stashed with SetRetval.
func (rt *Runtime) GetRetval() int { return rt.requireCurrent("get_retval").retval }

// SetCld attaches an arbitrary user payload ("child" pointer) to the
// currently running fiber.
func (rt *Runtime) SetCld(v interface{}) { rt.requireCurrent("set_cld").cld = v }

// GetCld returns the payload most recently attached with SetCld.
func (rt *Runtime) GetCld() interface{} { return rt.requireCurrent("get_cld").cld }

// SetPrio selects the sleep-queue tie-break policy used the next time
// this fiber is enqueued: high (true) prepends within its deadline
// bucket (LIFO), the default appends (FIFO).
func (rt *Runtime) SetPrio(h Handle, high bool) {
	if f := rt.resolve(h); f != nil {
		f.prio = high
	}
}

// IsRunnable reports whether h names a live fiber that has left DORMANT.
func (rt *Runtime) IsRunnable(h Handle) bool {
	f := rt.resolve(h)
	return f != nil && f.phase != PhaseDormant
}

// IsDead reports whether h's fiber has finalized (or the handle is stale).
func (rt *Runtime) IsDead(h Handle) bool {
	return rt.resolve(h) == nil
}

// Scratch returns the fiber's guard-paged scratch region: usable bytes
// above the low guard page. Writing below the returned slice (into the
// guard page) segfaults deterministically — see stack.go and
// fiber_test.go's overflow-canary test (testable property #6).
func (f *Fiber) Scratch() []byte { return f.stack.usable() }

// Pin increments the fiber's abac counter, preventing recycling even
// after the fiber finalizes.
func (rt *Runtime) Pin(h Handle) {
	if f := rt.resolve(h); f != nil {
		f.pin++
	}
}

// Unpin decrements the fiber's abac counter. Unlike the other
// handle-taking calls it matches on id alone, not gen: finalize bumps
// gen, and a record held for its pin keeps its id because it is never
// reused, so its pin can still be dropped for the next GC to release it.
func (rt *Runtime) Unpin(h Handle) {
	if f := h.f; f != nil && f.id == h.id && f.pin > 0 {
		f.pin--
	}
}
