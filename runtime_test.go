package mnthr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShutdownIsObservedByShuttingDownAndLoop(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	require.False(t, rt.ShuttingDown())

	var sawShutdown bool
	_, err = rt.Spawn(func(argv []interface{}) int {
		rc := rt.Sleep(-1) // sleeps forever unless interrupted
		sawShutdown = rt.ShuttingDown()
		return int(rc)
	})
	require.NoError(t, err)

	_, err = rt.Spawn(func(argv []interface{}) int {
		rt.Yield() // let the sleeper register first
		rt.Shutdown()
		return 0
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.True(t, rt.ShuttingDown())
	require.True(t, sawShutdown)
}

func TestNewDoesNotRunUntilRun(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	var ran bool
	h, err := rt.New(func(argv []interface{}) int {
		ran = true
		return 0
	})
	require.NoError(t, err)
	require.False(t, rt.IsRunnable(h)) // still DORMANT

	// A Loop turn with nothing runnable and nothing else spawned exits
	// immediately without ever having run the dormant fiber.
	_, err = rt.Spawn(func(argv []interface{}) int { return 0 })
	require.NoError(t, err)
	require.NoError(t, rt.Loop())
	require.False(t, ran)

	rt.Run(h)
	require.NoError(t, rt.Loop())
	require.True(t, ran)
}

func TestRunOnFinishedFiberIsProgrammingError(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	h, err := rt.Spawn(func(argv []interface{}) int { return 0 })
	require.NoError(t, err)
	require.NoError(t, rt.Loop()) // fiber has finished and been finalized, so h no longer resolves

	require.Panics(t, func() { rt.Run(h) })
}

func TestNewUnpooledRecordIsNeverRecycled(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	h, err := rt.SpawnUnpooled(func(argv []interface{}) int { return 5 })
	require.NoError(t, err)
	require.NoError(t, rt.Loop())

	// finalize must not have pushed the record onto the free list: the
	// "signal" variant bypasses the free list entirely (§6 Constructors).
	require.Empty(t, rt.pool.free)
	require.True(t, rt.IsDead(h))
}

func TestSpawnRecordIsRecycledThroughPool(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.Spawn(func(argv []interface{}) int { return 5 })
	require.NoError(t, err)
	require.NoError(t, rt.Loop())

	require.Len(t, rt.pool.free, 1)
}
