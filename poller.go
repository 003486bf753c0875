package mnthr

import (
	"time"

	"github.com/pkg/errors"
)

// eventMask is the portable readiness bitset a registration can be
// interested in (§4.4 "readable/writable/hangup/error").
type eventMask uint32

const (
	EventRead eventMask = 1 << iota
	EventWrite
	EventHangup
	EventError
)

// pathEventMask is the portable filesystem-watch bitset (SPEC_FULL.md's
// "concrete path-watch realization": inotify on Linux, EVFILT_VNODE on
// BSD/Darwin).
type pathEventMask uint32

const (
	PathWrite pathEventMask = 1 << iota
	PathRename
	PathDelete
	PathAttrib
)

// registration is one fd-or-path interest record, owned by exactly one
// fiber at a time. It is the portable half of the platform pollers
// (poller_linux.go's epoll_event.data, poller_kqueue.go's Udata
// equivalent) — rather than stash an unsafe.Pointer in the kernel
// event itself the way the trpc-group-tnet kqueue poller does, this
// keeps a plain Go map from fd to *registration in the poller, trading
// one map lookup per event for not fighting the garbage collector over
// a pinned pointer; see DESIGN.md.
type registration struct {
	fd    int
	fiber *Fiber
	want  eventMask
	path  string
	pmask pathEventMask
}

// readyEvent is one fd (or path) becoming ready, reported by the
// kernel backend back up to Runtime.dispatchEvents.
type readyEvent struct {
	reg      *registration
	mask     eventMask
	pathMask pathEventMask
}

// kernelBackend is the platform-specific half of poller: register/wait
// over epoll (Linux) or kqueue (the BSD family, including Darwin),
// mirroring the split the teacher keeps between watcher and its pfd
// poller field.
type kernelBackend interface {
	add(reg *registration) error
	del(reg *registration) error
	addPath(reg *registration) error
	delPath(reg *registration) error
	wait(budget time.Duration) ([]readyEvent, error)
	wake() error
	close() error
}

// poller is the portable façade Runtime talks to; newPoller picks the
// platform backend at compile time via the build-tagged constructors
// in poller_linux.go / poller_kqueue.go.
type poller struct {
	backend kernelBackend
	byFD    map[int]*registration
}

// newPoller constructs the platform poller: newKernelBackend is
// supplied per-OS by poller_linux.go (epoll+inotify) or
// poller_kqueue.go (kqueue, darwin/bsd build tags).
func newPoller() (*poller, error) {
	backend, err := newKernelBackend()
	if err != nil {
		return nil, err
	}
	return &poller{backend: backend, byFD: make(map[int]*registration)}, nil
}

// errSimultaneous is returned by register when a second fiber tries to
// wait on an fd another fiber is already waiting on, whatever the two
// masks are — the key is the fd alone (DESIGN.md Open Question
// resolution 9; spec.md §4.3 "a wait on a key already held by another fiber fails
// synchronously with rc=SIMULTANEOUS"). Since every registration this
// poller creates is single-shot (io.go tears it down the instant its
// wait resolves), an existing entry for fd always means some other
// fiber's wait is still outstanding — there is no "same fiber reusing
// its own key" case to special-case here.
var errSimultaneous = errors.New("mnthr: fd already has a waiting fiber")

// register attaches f to fd for the given interest (§4.4
// register/modify/unregister), rejecting a second concurrent waiter on
// the same fd with errSimultaneous.
func (p *poller) register(f *Fiber, fd int, want eventMask) (*registration, error) {
	if _, existed := p.byFD[fd]; existed {
		return nil, errSimultaneous
	}
	reg := &registration{fd: fd, fiber: f, want: want}
	if err := p.backend.add(reg); err != nil {
		return nil, err
	}
	p.byFD[fd] = reg
	return reg, nil
}

// unregister detaches reg from the kernel backend and the fd table.
func (p *poller) unregister(reg *registration) error {
	delete(p.byFD, reg.fd)
	return p.backend.del(reg)
}

// watchPath attaches f to a filesystem path for the given interest
// (SPEC_FULL.md's path-watch feature).
func (p *poller) watchPath(f *Fiber, path string, want pathEventMask) (*registration, error) {
	reg := &registration{fd: -1, fiber: f, path: path, pmask: want}
	if err := p.backend.addPath(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (p *poller) unwatchPath(reg *registration) error {
	return p.backend.delPath(reg)
}

// wake interrupts a blocked wait call, used by Runtime.Close and
// Runtime.Shutdown to pull the feeder goroutine out of a potentially
// unbounded poll.
func (p *poller) wake() error { return p.backend.wake() }

// wait polls the kernel backend and resolves each raw fd-keyed event
// against the fd table (path-watch events already arrive with their
// registration attached by the backend, since it owns that table too).
func (p *poller) wait(budget time.Duration) ([]readyEvent, error) {
	raw, err := p.backend.wait(budget)
	if err != nil {
		return nil, err
	}
	out := make([]readyEvent, 0, len(raw))
	for _, ev := range raw {
		if ev.reg.fiber == nil {
			reg, ok := p.byFD[ev.reg.fd]
			if !ok {
				continue
			}
			ev.reg = reg
		}
		out = append(out, ev)
	}
	return out, nil
}

func (p *poller) close() error {
	return p.backend.close()
}
