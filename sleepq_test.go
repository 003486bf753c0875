package mnthr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFiber(id int64) *Fiber {
	return &Fiber{id: id, sqIndex: -1, deadline: DeadlineUndefined}
}

func TestSleepQueueOrdersByDeadline(t *testing.T) {
	q := newSleepQueue()
	a, b, c := newTestFiber(1), newTestFiber(2), newTestFiber(3)
	q.enqueue(a, 30, false)
	q.enqueue(b, 10, false)
	q.enqueue(c, 20, false)

	require.Equal(t, b, q.min())
	require.Equal(t, []*Fiber{b}, q.drain(q.min()))
	require.Equal(t, c, q.min())
	require.Equal(t, []*Fiber{c}, q.drain(q.min()))
	require.Equal(t, a, q.min())
}

func TestSleepQueueBucketFIFOOrder(t *testing.T) {
	q := newSleepQueue()
	host := newTestFiber(1)
	second := newTestFiber(2)
	third := newTestFiber(3)
	q.enqueue(host, 100, false)
	q.enqueue(second, 100, false)
	q.enqueue(third, 100, false)

	drained := q.drain(q.min())
	require.Equal(t, []*Fiber{host, second, third}, drained)
}

func TestSleepQueueBucketLIFOPrio(t *testing.T) {
	q := newSleepQueue()
	host := newTestFiber(1)
	second := newTestFiber(2)
	third := newTestFiber(3)
	q.enqueue(host, 100, false)
	q.enqueue(second, 100, true)
	q.enqueue(third, 100, true)

	drained := q.drain(q.min())
	require.Equal(t, []*Fiber{host, third, second}, drained)
}

func TestSleepQueueRemoveHostPromotesBucketMember(t *testing.T) {
	q := newSleepQueue()
	host := newTestFiber(1)
	second := newTestFiber(2)
	q.enqueue(host, 50, false)
	q.enqueue(second, 50, false)

	q.remove(host)
	require.Equal(t, second, q.min())
	require.True(t, second.sqIsHost)
}

func TestSleepQueueRemoveIsIdempotent(t *testing.T) {
	q := newSleepQueue()
	f := newTestFiber(1)
	q.enqueue(f, 50, false)
	q.remove(f)
	require.NotPanics(t, func() { q.remove(f) })
	require.Equal(t, DeadlineUndefined, f.deadline)
}
