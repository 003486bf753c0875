package mnthr

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// io.go is the fiber-facing half of the poller attachment described in
// §3/§4.4: a fiber blocks on a single fd interest at a time, and the
// driver wakes it the moment the kernel backend reports it ready.

// WaitForRead blocks the current fiber until fd becomes readable. There
// is no per-call timeout: per §4.3 the poller contract is "blocks until
// readiness", and bounding the wait is the scheduler's job (§4.3
// "Deadline integration" bounds the driver's overall poll, not any one
// fiber's fd interest). READ/WRITE/OTHER_POLLER are not in the
// externally-resumable phase set (§"Externally resumable phases"), so
// unlike Sleep/Join/Signal.Wait this call cannot be raced against a
// watchdog fiber's SetInterrupt either — a caller needing a deadline on
// an fd has to arrange it below this call, e.g. with SO_RCVTIMEO or by
// making the fd itself expire.
func (rt *Runtime) WaitForRead(fd int) (eventMask, RC) {
	return rt.waitForEvents(fd, EventRead)
}

// WaitForWrite blocks the current fiber until fd becomes writable.
func (rt *Runtime) WaitForWrite(fd int) (eventMask, RC) {
	return rt.waitForEvents(fd, EventWrite)
}

// WaitForEvents blocks on an arbitrary readiness mask (§4.4
// "readable/writable/hangup/error" combined interest).
func (rt *Runtime) WaitForEvents(fd int, want eventMask) (eventMask, RC) {
	return rt.waitForEvents(fd, want)
}

func (rt *Runtime) waitForEvents(fd int, want eventMask) (eventMask, RC) {
	f := rt.requireCurrent("wait_for_events")
	if rt.closed || rt.shuttingDown {
		return 0, RCPoller
	}
	reg, err := rt.poller.register(f, fd, want)
	if err == errSimultaneous {
		return 0, RCSimultaneous
	}
	if err != nil {
		return 0, RCPoller
	}
	f.reg = reg
	f.phase = phaseForMask(want)
	rt.suspend(f)
	mask := f.lastEventMask
	rc := f.rc
	// Single-shot: a fiber is only ever interested in one wait at a
	// time, so the registration is torn down as soon as this call
	// resolves.
	_ = rt.poller.unregister(reg)
	f.reg = nil
	return mask, rc
}

func phaseForMask(want eventMask) Phase {
	if want&EventWrite != 0 && want&EventRead == 0 {
		return PhaseWrite
	}
	if want&EventRead != 0 && want&EventWrite == 0 {
		return PhaseRead
	}
	return PhaseOtherPoller
}

// WatchPath blocks the current fiber until the filesystem path changes
// per want (SPEC_FULL.md's supplemented path-watch feature over
// inotify/EVFILT_VNODE). Like wait_for_read/write/events this has no
// built-in timeout; see WaitForRead's doc comment.
func (rt *Runtime) WatchPath(path string, want pathEventMask) (pathEventMask, RC) {
	f := rt.requireCurrent("watch_path")
	if rt.closed || rt.shuttingDown {
		return 0, RCPoller
	}
	reg, err := rt.poller.watchPath(f, path, want)
	if err != nil {
		return 0, RCPoller
	}
	f.reg = reg
	f.phase = PhaseOtherPoller
	rt.suspend(f)
	mask := f.lastPathMask
	rc := f.rc
	_ = rt.poller.unwatchPath(reg)
	f.reg = nil
	return mask, rc
}

// GetRBufLen reports how many bytes are currently queued to read on fd
// (spec.md §6 get_rbuflen), via the same FIONREAD ioctl on every
// supported platform.
func (rt *Runtime) GetRBufLen(fd int) (int, error) {
	if rt.closed {
		return 0, errClosedPoller
	}
	n, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	if err != nil {
		return 0, errors.Wrap(err, "mnthr: get_rbuflen")
	}
	return n, nil
}

// GetWBufLen reports how many bytes are currently queued to write on
// fd and not yet sent (spec.md §6 get_wbuflen), via TIOCOUTQ.
func (rt *Runtime) GetWBufLen(fd int) (int, error) {
	if rt.closed {
		return 0, errClosedPoller
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCOUTQ)
	if err != nil {
		return 0, errors.Wrap(err, "mnthr: get_wbuflen")
	}
	return n, nil
}

// errClosedPoller wraps a poller operation attempted after Close.
var errClosedPoller = errors.New("mnthr: poller is closed")
