//go:build linux

package mnthr

import (
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollBackend is the Linux kernelBackend: epoll for fd readiness plus
// inotify for the supplemented path-watch feature, both driven through
// golang.org/x/sys/unix the way the teacher's watcher.go does for its
// own (simpler) epoll usage.
type epollBackend struct {
	epfd    int
	inofd   int
	wakeR   int
	wakeW   int
	byWatch map[int32]*registration // inotify watch descriptor -> registration
	events  []unix.EpollEvent
}

func newKernelBackend() (kernelBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "mnthr: epoll_create1")
	}
	inofd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, errors.Wrap(err, "mnthr: inotify_init1")
	}
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(inofd)
		return nil, errors.Wrap(err, "mnthr: wake pipe")
	}
	b := &epollBackend{
		epfd:    epfd,
		inofd:   inofd,
		wakeR:   fds[0],
		wakeW:   fds[1],
		byWatch: make(map[int32]*registration),
		events:  make([]unix.EpollEvent, 128),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, b.wakeR, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(b.wakeR)}); err != nil {
		_ = b.close()
		return nil, errors.Wrap(err, "mnthr: epoll_ctl wake pipe")
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, inofd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(inofd)}); err != nil {
		_ = b.close()
		return nil, errors.Wrap(err, "mnthr: epoll_ctl inotify fd")
	}
	return b, nil
}

func epollEvents(want eventMask) uint32 {
	var ev uint32
	if want&EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if want&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (b *epollBackend) add(reg *registration) error {
	ev := &unix.EpollEvent{Events: epollEvents(reg.want), Fd: int32(reg.fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, reg.fd, ev); err != nil {
		return errors.Wrap(err, "mnthr: epoll_ctl add")
	}
	return nil
}

func (b *epollBackend) del(reg *registration) error {
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, reg.fd, nil); err != nil && err != unix.ENOENT {
		return errors.Wrap(err, "mnthr: epoll_ctl del")
	}
	return nil
}

var inotifyMask = map[pathEventMask]uint32{
	PathWrite:  unix.IN_MODIFY | unix.IN_CLOSE_WRITE,
	PathRename: unix.IN_MOVE_SELF | unix.IN_MOVED_FROM | unix.IN_MOVED_TO,
	PathDelete: unix.IN_DELETE_SELF | unix.IN_DELETE,
	PathAttrib: unix.IN_ATTRIB,
}

func toInotifyMask(want pathEventMask) uint32 {
	var m uint32
	for bit, flag := range inotifyMask {
		if want&bit != 0 {
			m |= flag
		}
	}
	return m
}

func (b *epollBackend) addPath(reg *registration) error {
	wd, err := unix.InotifyAddWatch(b.inofd, reg.path, toInotifyMask(reg.pmask))
	if err != nil {
		return errors.Wrapf(err, "mnthr: inotify_add_watch %q", reg.path)
	}
	reg.fd = int(wd)
	b.byWatch[wd] = reg
	return nil
}

func (b *epollBackend) delPath(reg *registration) error {
	delete(b.byWatch, int32(reg.fd))
	if _, err := unix.InotifyRmWatch(b.inofd, uint32(reg.fd)); err != nil && err != unix.EINVAL {
		return errors.Wrap(err, "mnthr: inotify_rm_watch")
	}
	return nil
}

// wait blocks for up to budget (negative: unbounded, zero: a pure
// poll) and returns every fd/path that became ready, mirroring the
// teacher's aio_test-style tryRead/tryWrite EAGAIN/EINTR retry loop at
// the syscall layer.
func (b *epollBackend) wait(budget time.Duration) ([]readyEvent, error) {
	timeoutMs := -1
	if budget >= 0 {
		timeoutMs = int(budget / time.Millisecond)
		if timeoutMs == 0 && budget > 0 {
			timeoutMs = 1
		}
	}
	var n int
	var err error
	for {
		n, err = unix.EpollWait(b.epfd, b.events, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, errors.Wrap(err, "mnthr: epoll_wait")
	}
	out := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := b.events[i]
		switch int(ev.Fd) {
		case b.wakeR:
			drainPipe(b.wakeR)
			continue
		case b.inofd:
			out = append(out, b.drainInotify()...)
			continue
		}
		var mask eventMask
		if ev.Events&unix.EPOLLIN != 0 {
			mask |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			mask |= EventWrite
		}
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			mask |= EventHangup
		}
		if ev.Events&unix.EPOLLERR != 0 {
			mask |= EventError
		}
		out = append(out, readyEvent{reg: &registration{fd: int(ev.Fd)}, mask: mask})
	}
	return out, nil
}

func (b *epollBackend) drainInotify() []readyEvent {
	buf := make([]byte, 4096)
	n, err := unix.Read(b.inofd, buf)
	if err != nil || n <= 0 {
		return nil
	}
	var out []readyEvent
	off := 0
	for off+unix.SizeofInotifyEvent <= n {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
		reg, ok := b.byWatch[raw.Wd]
		off += unix.SizeofInotifyEvent + int(raw.Len)
		if !ok {
			continue
		}
		out = append(out, readyEvent{reg: reg, pathMask: reg.pmask})
	}
	return out
}

func (b *epollBackend) wake() error {
	_, err := unix.Write(b.wakeW, []byte{0})
	if err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "mnthr: wake pipe write")
	}
	return nil
}

func drainPipe(fd int) {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil || n <= 0 {
			return
		}
	}
}

func (b *epollBackend) close() error {
	_ = unix.Close(b.wakeR)
	_ = unix.Close(b.wakeW)
	_ = unix.Close(b.inofd)
	return unix.Close(b.epfd)
}
