// Package queue implements a lock-free FIFO, based on the paper "Simple,
// Fast, and Practical Non-Blocking and Blocking Concurrent Queue
// Algorithms" (Michael, Scott - 1996).
//
// Unlike dlist, the queue does not reclaim nodes through package hazard:
// a popped node is returned straight to the shared node pool and may be
// handed back out to a concurrent push immediately. internal/nodepool's
// own per-slot recycle tag is what stands in for the classic algorithm's
// separate per-pointer ABA counter — reusing a slot always bumps its tag,
// so a stale TaggedHandle minted before the reuse can never again compare
// equal to the slot's new occupant, which is the only property the
// Michael-Scott tags were ever protecting.
package queue

import (
	"sync/atomic"

	"github.com/gmtwostay/lockfree/internal/nodepool"
)

type queueNode[T any] struct {
	val  T
	next atomic.Uint64 // packed nodepool.TaggedHandle
}

func loadHandle(a *atomic.Uint64) nodepool.TaggedHandle { return nodepool.TaggedHandle(a.Load()) }

func casHandle(a *atomic.Uint64, old, new nodepool.TaggedHandle) bool {
	return a.CompareAndSwap(uint64(old), uint64(new))
}

// Queue is a lock-free FIFO queue of elements of type T.
type Queue[T any] struct {
	pool *nodepool.Pool[queueNode[T]]
	head atomic.Uint64 // packed nodepool.TaggedHandle, always the dummy/consumed node
	tail atomic.Uint64 // packed nodepool.TaggedHandle
	size atomic.Int64
}

// New creates an empty queue with storage pre-sized for at least capacity
// elements.
func New[T any](capacity int) *Queue[T] {
	q := &Queue[T]{pool: nodepool.New[queueNode[T]](capacity)}
	_, slot, tag := q.pool.Construct(func(n *queueNode[T], slot uint32) {
		n.next.Store(uint64(nodepool.Nil))
	})
	h := nodepool.NewTaggedHandle(slot, tag)
	q.head.Store(uint64(h))
	q.tail.Store(uint64(h))
	return q
}

func (q *Queue[T]) deref(h nodepool.TaggedHandle) *queueNode[T] { return q.pool.Deref(h.Slot()) }

// Reserve pre-sizes the node pool's slot index for at least capacity
// nodes. It constructs no nodes, so it does not change Capacity.
func (q *Queue[T]) Reserve(capacity int) { q.pool.Reserve(capacity) }

// Capacity returns the number of nodes the queue's pool has constructed so
// far, including the dummy head node; recycled nodes are counted once.
func (q *Queue[T]) Capacity() int { return q.pool.Capacity() }

// Push adds val onto the end of the queue.
func (q *Queue[T]) Push(val T) {
	_, slot, tag := q.pool.Construct(func(n *queueNode[T], slot uint32) {
		n.val = val
		n.next.Store(uint64(nodepool.Nil))
	})
	nodeHandle := nodepool.NewTaggedHandle(slot, tag)

	var tail nodepool.TaggedHandle
	for {
		tail = loadHandle(&q.tail)
		next := loadHandle(&q.deref(tail).next)
		if tail != loadHandle(&q.tail) {
			continue
		}
		if !next.IsNil() {
			casHandle(&q.tail, tail, next)
			continue
		}
		if casHandle(&q.deref(tail).next, next, nodeHandle) {
			break
		}
	}
	casHandle(&q.tail, tail, nodeHandle)
	q.size.Add(1)
}

// Pop removes and returns the oldest element. ok is false if the queue
// was empty.
func (q *Queue[T]) Pop() (val T, ok bool) {
	var head nodepool.TaggedHandle
	for {
		head = loadHandle(&q.head)
		tail := loadHandle(&q.tail)
		next := loadHandle(&q.deref(head).next)
		if head != loadHandle(&q.head) {
			continue
		}
		if head.Slot() == tail.Slot() {
			if next.IsNil() {
				return val, false
			}
			casHandle(&q.tail, tail, next)
			continue
		}
		if next.IsNil() {
			continue
		}
		// Read the value before the CAS; a concurrent pop could otherwise
		// recycle next's slot out from under us.
		val = q.deref(next).val
		if casHandle(&q.head, head, next) {
			break
		}
	}
	q.size.Add(-1)
	q.pool.Destruct(head.Slot())
	return val, true
}

// Front reports a copy of the element that would be returned by the next
// Pop. ok is false if the queue is empty.
func (q *Queue[T]) Front() (val T, ok bool) {
	for {
		head := loadHandle(&q.head)
		tail := loadHandle(&q.tail)
		next := loadHandle(&q.deref(head).next)
		if head != loadHandle(&q.head) {
			continue
		}
		if head.Slot() == tail.Slot() && next.IsNil() {
			return val, false
		}
		if next.IsNil() {
			continue
		}
		val = q.deref(next).val
		if head == loadHandle(&q.head) {
			return val, true
		}
	}
}

// Back reports a copy of the most recently pushed element. ok is false if
// the queue is empty.
func (q *Queue[T]) Back() (val T, ok bool) {
	for {
		head := loadHandle(&q.head)
		tail := loadHandle(&q.tail)
		next := loadHandle(&q.deref(tail).next)
		if tail != loadHandle(&q.tail) {
			continue
		}
		if !next.IsNil() {
			casHandle(&q.tail, tail, next)
			continue
		}
		if head.Slot() == tail.Slot() {
			return val, false
		}
		val = q.deref(tail).val
		if head == loadHandle(&q.head) && tail == loadHandle(&q.tail) {
			return val, true
		}
	}
}

// Clear removes every element from the queue.
func (q *Queue[T]) Clear() {
	for {
		if _, ok := q.Pop(); !ok {
			return
		}
	}
}

// Empty reports whether the queue currently holds no elements.
func (q *Queue[T]) Empty() bool { return q.Size() == 0 }

// Size returns the number of elements currently in the queue.
func (q *Queue[T]) Size() int {
	if n := q.size.Load(); n > 0 {
		return int(n)
	}
	return 0
}
