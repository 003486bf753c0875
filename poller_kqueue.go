//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package mnthr

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// kqueueBackend is the BSD/Darwin kernelBackend: kqueue for both fd
// readiness and EVFILT_VNODE path events, with an EVFILT_USER "wake"
// filter used the same way the trpc-group-tnet poller_kqueue.go uses
// NOTE_TRIGGER to break out of a blocked Kevent call. Unlike that
// example this backend looks registrations up by fd through the
// portable poller's map, and by watch-fd through its own watchFD map,
// rather than stashing an unsafe.Pointer in Kevent_t.Udata — see
// poller.go's registration doc comment.
type kqueueBackend struct {
	kq      int
	watchFD map[int]*registration // open(O_EVTONLY) fd used for EVFILT_VNODE -> registration
}

const wakeIdent = 1

func newKernelBackend() (kernelBackend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "mnthr: kqueue")
	}
	if err := unix.SetNonblock(kq, true); err != nil {
		_ = unix.Close(kq)
		return nil, errors.Wrap(err, "mnthr: kqueue nonblock")
	}
	b := &kqueueBackend{kq: kq, watchFD: make(map[int]*registration)}
	wake := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{wake}, nil, nil); err != nil {
		_ = unix.Close(kq)
		return nil, errors.Wrap(err, "mnthr: kevent register wake")
	}
	return b, nil
}

func kqueueFilters(want eventMask) []unix.Kevent_t {
	var out []unix.Kevent_t
	if want&EventRead != 0 {
		out = append(out, unix.Kevent_t{Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR})
	}
	if want&EventWrite != 0 {
		out = append(out, unix.Kevent_t{Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR})
	}
	return out
}

func (b *kqueueBackend) add(reg *registration) error {
	changes := kqueueFilters(reg.want)
	for i := range changes {
		changes[i].Ident = uint64(reg.fd)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(b.kq, changes, nil, nil)
	if err != nil {
		return errors.Wrap(err, "mnthr: kevent add")
	}
	return nil
}

func (b *kqueueBackend) del(reg *registration) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(reg.fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(reg.fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(b.kq, changes, nil, nil)
	if err != nil && err != unix.ENOENT {
		return errors.Wrap(err, "mnthr: kevent del")
	}
	return nil
}

func vnodeFflags(want pathEventMask) uint32 {
	var f uint32
	if want&PathWrite != 0 {
		f |= unix.NOTE_WRITE | unix.NOTE_EXTEND
	}
	if want&PathRename != 0 {
		f |= unix.NOTE_RENAME
	}
	if want&PathDelete != 0 {
		f |= unix.NOTE_DELETE
	}
	if want&PathAttrib != 0 {
		f |= unix.NOTE_ATTRIB
	}
	return f
}

func (b *kqueueBackend) addPath(reg *registration) error {
	fd, err := unix.Open(reg.path, unix.O_EVTONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "mnthr: open %q for vnode watch", reg.path)
	}
	reg.fd = fd
	change := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
		Fflags: vnodeFflags(reg.pmask),
	}
	if _, err := unix.Kevent(b.kq, []unix.Kevent_t{change}, nil, nil); err != nil {
		_ = unix.Close(fd)
		return errors.Wrap(err, "mnthr: kevent add vnode")
	}
	b.watchFD[fd] = reg
	return nil
}

func (b *kqueueBackend) delPath(reg *registration) error {
	delete(b.watchFD, reg.fd)
	change := unix.Kevent_t{Ident: uint64(reg.fd), Filter: unix.EVFILT_VNODE, Flags: unix.EV_DELETE}
	_, _ = unix.Kevent(b.kq, []unix.Kevent_t{change}, nil, nil)
	return unix.Close(reg.fd)
}

func (b *kqueueBackend) wait(budget time.Duration) ([]readyEvent, error) {
	var ts *unix.Timespec
	if budget >= 0 {
		t := unix.NsecToTimespec(budget.Nanoseconds())
		ts = &t
	}
	events := make([]unix.Kevent_t, 128)
	var n int
	var err error
	for {
		n, err = unix.Kevent(b.kq, nil, events, ts)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, errors.Wrap(err, "mnthr: kevent wait")
	}
	out := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := events[i]
		if ev.Filter == unix.EVFILT_USER {
			continue
		}
		if ev.Filter == unix.EVFILT_VNODE {
			if reg, ok := b.watchFD[int(ev.Ident)]; ok {
				out = append(out, readyEvent{reg: reg, pathMask: reg.pmask})
			}
			continue
		}
		var mask eventMask
		switch ev.Filter {
		case unix.EVFILT_READ:
			mask |= EventRead
		case unix.EVFILT_WRITE:
			mask |= EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			mask |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			mask |= EventError
		}
		out = append(out, readyEvent{reg: &registration{fd: int(ev.Ident)}, mask: mask})
	}
	return out, nil
}

func (b *kqueueBackend) wake() error {
	trigger := unix.Kevent_t{Ident: wakeIdent, Filter: unix.EVFILT_USER, Fflags: unix.NOTE_TRIGGER}
	_, err := unix.Kevent(b.kq, []unix.Kevent_t{trigger}, nil, nil)
	if err != nil {
		return errors.Wrap(err, "mnthr: kevent wake")
	}
	return nil
}

func (b *kqueueBackend) close() error {
	for fd := range b.watchFD {
		_ = unix.Close(fd)
	}
	return unix.Close(b.kq)
}
