package mnthr

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Stack sizing (§3: "a mapped stack region of a configurable size
// (default ≥ 2 pages, multiple of page size)", §6 set_stacksize clamps
// to [2, 2048] pages).
const (
	pageSize         = 4096
	minStackSize     = 2 * pageSize
	maxStackSize     = 2048 * pageSize
	defaultStackSize = 8 * pageSize
)

// stackRegion is a guard-paged anonymous mapping owned by one Fiber
// record. Go fiber bodies run as goroutines whose real call stacks are
// grown and owned by the Go runtime and are not reachable for a
// guard-page treatment (§9 design notes permit representing a fiber as
// a host-language task); this region exists so the configured stack
// size and the guard-page invariant (testable property #6) are still
// real, inspectable, and literally enforced by the MMU — see
// DESIGN.md's resolution of this Open Question and Fiber.Scratch.
type stackRegion struct {
	mem      []byte
	guardLen int
}

func newStackRegion(size int) (*stackRegion, error) {
	size = clampStackSize(size)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "mnthr: mmap fiber stack")
	}
	if err := unix.Mprotect(mem[pageSize:], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		_ = unix.Munmap(mem)
		return nil, errors.Wrap(err, "mnthr: mprotect fiber stack")
	}
	return &stackRegion{mem: mem, guardLen: pageSize}, nil
}

// usable returns the writable bytes above the low guard page.
func (s *stackRegion) usable() []byte { return s.mem[s.guardLen:] }

func (s *stackRegion) unmap() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	if err != nil {
		return errors.Wrap(err, "mnthr: munmap fiber stack")
	}
	return nil
}

func clampStackSize(size int) int {
	if size < minStackSize {
		size = minStackSize
	}
	if size > maxStackSize {
		size = maxStackSize
	}
	return roundUpPage(size)
}

func roundUpPage(n int) int {
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}
