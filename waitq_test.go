package mnthr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWaitQueueFIFO(t *testing.T) {
	var q waitQueue
	a, b, c := newTestFiber(1), newTestFiber(2), newTestFiber(3)
	q.appendSelf(a)
	q.appendSelf(b)
	q.appendSelf(c)

	require.Equal(t, 3, q.len())
	require.Equal(t, a, q.popFront())
	require.Equal(t, b, q.popFront())
	require.Equal(t, c, q.popFront())
	require.True(t, q.empty())
}

func TestWaitQueueDetachMiddle(t *testing.T) {
	var q waitQueue
	a, b, c := newTestFiber(1), newTestFiber(2), newTestFiber(3)
	q.appendSelf(a)
	q.appendSelf(b)
	q.appendSelf(c)

	b.detach()
	require.Equal(t, 2, q.len())
	require.Equal(t, []*Fiber{a, c}, q.drainAll())
}

func TestWaitQueueDetachIsIdempotent(t *testing.T) {
	var q waitQueue
	a := newTestFiber(1)
	q.appendSelf(a)
	a.detach()
	require.NotPanics(t, func() { a.detach() })
	require.True(t, q.empty())
}
