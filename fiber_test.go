package mnthr

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpawnAndJoin(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	h, err := rt.Spawn(func(argv []interface{}) int { return 42 })
	require.NoError(t, err)

	var retval int
	var rc RC
	_, err = rt.Spawn(func(argv []interface{}) int {
		retval, rc = rt.Join(h)
		return 0
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.Equal(t, 42, retval)
	require.Equal(t, RCExited, rc)
}

func TestJoinOfDeadHandleFails(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	h, err := rt.Spawn(func(argv []interface{}) int { return 0 })
	require.NoError(t, err)

	var rc RC
	_, err = rt.Spawn(func(argv []interface{}) int {
		_, rc = rt.Join(h)
		return 0
	})
	require.NoError(t, err)
	require.NoError(t, rt.Loop())
	require.Equal(t, RCExited, rc)

	rt2, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt2.Close()
	var rc2 RC
	_, err = rt2.Spawn(func(argv []interface{}) int {
		_, rc2 = rt2.Join(h) // h's fiber finished in rt.Loop above, so h is stale: resolve must fail
		return 0
	})
	require.NoError(t, err)
	require.NoError(t, rt2.Loop())
	require.Equal(t, RCJoinFailure, rc2)
}

func TestSetInterruptAfterExitIsNoop(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	h, err := rt.Spawn(func(argv []interface{}) int { return 7 })
	require.NoError(t, err)
	require.NoError(t, rt.Loop()) // h has finished and its record may already be recycled

	require.NotPanics(t, func() { rt.SetInterrupt(h) })

	// The recycled record must be unaffected: spawning a fresh fiber and
	// joining it still reports its own retval/rc, not anything left over
	// from the stale interrupt.
	var retval int
	var rc RC
	h2, err := rt.Spawn(func(argv []interface{}) int { return 99 })
	require.NoError(t, err)
	_, err = rt.Spawn(func(argv []interface{}) int {
		retval, rc = rt.Join(h2)
		return 0
	})
	require.NoError(t, err)
	require.NoError(t, rt.Loop())
	require.Equal(t, 99, retval)
	require.Equal(t, RCExited, rc)
}

func TestSleepOrdersWakeupsByDeadline(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	var order []int
	spawnSleeper := func(id int, ticks int64) {
		_, err := rt.Spawn(func(argv []interface{}) int {
			rt.Sleep(ticks)
			order = append(order, id)
			return 0
		})
		require.NoError(t, err)
	}
	spawnSleeper(3, MsecToTicks(30))
	spawnSleeper(1, MsecToTicks(10))
	spawnSleeper(2, MsecToTicks(20))

	require.NoError(t, rt.Loop())
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestYieldRunsOnANextTurn(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	var second bool
	_, err = rt.Spawn(func(argv []interface{}) int {
		rt.Yield()
		second = true
		return 0
	})
	require.NoError(t, err)
	require.NoError(t, rt.Loop())
	require.True(t, second)
}

func TestWaitForTimeoutInterruptsTarget(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	var targetRC RC
	h, err := rt.Spawn(func(argv []interface{}) int {
		targetRC = rt.Sleep(-1) // sleeps forever unless interrupted
		return 0
	})
	require.NoError(t, err)

	var callerRC RC
	_, err = rt.Spawn(func(argv []interface{}) int {
		_, callerRC = rt.WaitFor(h, MsecToTicks(5))
		return 0
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.Equal(t, RCWaitTimeout, callerRC)
	require.Equal(t, RCTimedOut, targetRC)
}

func TestGCUnmapsFreedStacks(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.Spawn(func(argv []interface{}) int { return 0 })
	require.NoError(t, err)
	require.NoError(t, rt.Loop())

	require.NotPanics(t, func() { rt.GC() })
}

// TestStackGuardPageSegfaults verifies the scratch region's low guard
// page is genuinely unmapped/PROT_NONE by re-executing this test binary
// in a subprocess that deliberately writes below its Scratch() slice;
// the parent asserts the child died from a fault rather than exiting
// cleanly (testable property #6).
func TestStackGuardPageSegfaults(t *testing.T) {
	if os.Getenv("MNTHR_GUARD_CANARY") == "1" {
		region, err := newStackRegion(defaultStackSize)
		if err != nil {
			os.Exit(2)
		}
		// The last byte of the low guard page, one below region.usable().
		region.mem[region.guardLen-1] = 0xFF
		os.Exit(0) // unreachable: the write above must fault first
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestStackGuardPageSegfaults")
	cmd.Env = append(os.Environ(), "MNTHR_GUARD_CANARY=1")
	err := cmd.Run()
	require.Error(t, err)
	exitErr, ok := err.(*exec.ExitError)
	require.True(t, ok)
	require.False(t, exitErr.Success())
}
