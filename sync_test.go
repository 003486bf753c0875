package mnthr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignalWakesWaiters(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	sig := rt.NewSignal()
	var order []int
	for i := 1; i <= 3; i++ {
		id := i
		_, err := rt.Spawn(func(argv []interface{}) int {
			sig.Wait()
			order = append(order, id)
			return 0
		})
		require.NoError(t, err)
	}
	_, err = rt.Spawn(func(argv []interface{}) int {
		rt.Yield() // let the three waiters subscribe before firing
		sig.Fire()
		return 0
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestSemaphoreBlocksAtZero(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	sem := rt.NewSemaphore(1)
	var second bool
	_, err = rt.Spawn(func(argv []interface{}) int {
		require.Equal(t, RCOK, sem.Acquire())
		return 0
	})
	require.NoError(t, err)
	_, err = rt.Spawn(func(argv []interface{}) int {
		rc := sem.Acquire() // blocks until the third fiber releases
		require.Equal(t, RCOK, rc)
		second = true
		return 0
	})
	require.NoError(t, err)
	_, err = rt.Spawn(func(argv []interface{}) int {
		rt.Yield()
		sem.Release()
		return 0
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.True(t, second)
}

func TestSemaphoreTryAcquire(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	sem := rt.NewSemaphore(0)
	require.Equal(t, RCTryAcquireFail, sem.TryAcquire())
	sem.Release()
	require.Equal(t, RCOK, sem.TryAcquire())
}

func TestInvertedSemaphoreWaitsForZero(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	isem := rt.NewInvertedSemaphore()
	isem.Increment()
	isem.Increment()

	var drained bool
	_, err = rt.Spawn(func(argv []interface{}) int {
		isem.Wait()
		drained = true
		return 0
	})
	require.NoError(t, err)
	_, err = rt.Spawn(func(argv []interface{}) int {
		rt.Yield()
		isem.Decrement()
		isem.Decrement()
		return 0
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.True(t, drained)
}

func TestRWLockWritersExcludeReaders(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	lock := rt.NewRWLock()
	var readerRan bool
	_, err = rt.Spawn(func(argv []interface{}) int {
		require.Equal(t, RCOK, lock.Lock())
		rt.Yield()
		lock.Unlock()
		return 0
	})
	require.NoError(t, err)
	_, err = rt.Spawn(func(argv []interface{}) int {
		require.Equal(t, RCOK, lock.RLock())
		readerRan = true
		lock.RUnlock()
		return 0
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.True(t, readerRan)
}

func TestGeneratorYieldsValuesInOrder(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	defer rt.Close()

	gen, err := rt.NewGenerator(func(emit func(interface{})) {
		emit(1)
		emit(2)
		emit(3)
	})
	require.NoError(t, err)

	var got []int
	_, err = rt.Spawn(func(argv []interface{}) int {
		for {
			v, ok := gen.Next()
			if !ok {
				return 0
			}
			got = append(got, v.(int))
		}
	})
	require.NoError(t, err)

	require.NoError(t, rt.Loop())
	require.Equal(t, []int{1, 2, 3}, got)
}
