//go:build linux

package mnthr

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWaitForReadWakesOnPipeWrite(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var gotMask eventMask
	var gotRC RC
	_, err = rt.Spawn(func(argv []interface{}) int {
		gotMask, gotRC = rt.WaitForRead(fds[0])
		return 0
	})
	require.NoError(t, err)
	_, err = rt.Spawn(func(argv []interface{}) int {
		rt.Yield()
		_, werr := unix.Write(fds[1], []byte("x"))
		require.NoError(t, werr)
		return 0
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.Equal(t, RCOK, gotRC)
	require.NotZero(t, gotMask&EventRead)
}

func TestWaitForReadRejectsSecondWaiterOnSameFD(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var secondRC RC
	_, err = rt.Spawn(func(argv []interface{}) int {
		rt.WaitForRead(fds[0]) // holds the registration until fds[1] is written
		return 0
	})
	require.NoError(t, err)
	_, err = rt.Spawn(func(argv []interface{}) int {
		rt.Yield() // let the first fiber register before this one tries
		_, secondRC = rt.WaitForRead(fds[0])
		return 0
	})
	require.NoError(t, err)
	_, err = rt.Spawn(func(argv []interface{}) int {
		rt.Yield()
		rt.Yield() // let both waiters attempt registration first
		_, werr := unix.Write(fds[1], []byte("x"))
		require.NoError(t, werr)
		return 0
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.Equal(t, RCSimultaneous, secondRC)
}

// TestDispatchEventsReportsPollerOnErrorFlag verifies §9's combined-event
// ambiguity resolution: a delivery carrying EventError reports rc=POLLER
// with the partial readiness mask cleared, never RCOK. The kernel rarely
// hands epoll_wait an EPOLLERR in a way a test can force deterministically,
// so this drives Runtime.dispatchEvents directly against a real registration
// taken out by a waiting fiber.
func TestDispatchEventsReportsPollerOnErrorFlag(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var gotMask eventMask
	var gotRC RC
	_, err = rt.Spawn(func(argv []interface{}) int {
		gotMask, gotRC = rt.WaitForRead(fds[0])
		return 0
	})
	require.NoError(t, err)

	var fired bool
	_, err = rt.Spawn(func(argv []interface{}) int {
		rt.Yield() // let the reader register first
		reg := rt.poller.byFD[fds[0]]
		require.NotNil(t, reg)
		rt.dispatchEvents([]readyEvent{{reg: reg, mask: EventRead | EventError}})
		fired = true
		return 0
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.True(t, fired)
	require.Equal(t, RCPoller, gotRC)
	require.Zero(t, gotMask)
}
