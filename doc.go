// Package mnthr implements a single-threaded cooperative fiber runtime:
// a priority-ordered sleep queue coupled to a readiness-driven I/O poller,
// driven by one scheduler loop that multiplexes many lightweight fibers
// over a single goroutine of control.
//
// A fiber is a cooperatively scheduled unit of execution with its own
// entry function; it voluntarily suspends via Sleep, Yield, Join, or one
// of the blocking I/O wrappers, and is resumed by the scheduler when a
// deadline elapses or an I/O readiness event fires. Nothing here
// preempts, parallelizes across cores, or steals work — exactly one
// fiber (or the scheduler itself) ever holds control at a time.
//
// Typical use:
//
//	rt, err := mnthr.New(mnthr.DefaultConfig())
//	h, err := rt.Spawn(func(argv []interface{}) int {
//		rt.Sleep(100)
//		return 0
//	})
//	go func() { rt.Loop() }()
//	...
//	rt.Shutdown()
package mnthr
