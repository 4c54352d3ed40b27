// Package dlist implements a lock-free doubly-linked list, based on the
// paper "Lock-free deques and doubly linked lists" (Sundell et al., 2008),
// reclaiming its nodes through package hazard.
//
// Because Go has no goroutine-local storage, a goroutine that wants to
// call into a List first obtains a *Handle via List.Join and reuses it
// for every subsequent call — the Handle is the Go stand-in for the
// implicit per-thread hazard record the original design keeps in TLS. A
// Handle is not safe for concurrent use by more than one goroutine at a
// time, the same restriction the original places on its thread-local
// record.
package dlist

import (
	"sync/atomic"

	"github.com/gmtwostay/lockfree/hazard"
	"github.com/gmtwostay/lockfree/internal/backoff"
)

// DefaultIterMax is the number of live iterators a single Handle may hold
// at once; each consumes one of the handle's hazard-pointer slots.
const DefaultIterMax = 2

// List is a lock-free doubly-linked list of elements of type T.
type List[T any] struct {
	mem  *hazard.Manager[node[T], *node[T]]
	head hazard.Link[node[T]]
	tail hazard.Link[node[T]]
	size atomic.Int64

	// createHook and reclaimHook are test-only instrumentation points (nil
	// in production use): createHook, if set, is called with every node
	// right after it's constructed; reclaimHook is called with a node
	// exactly once, at the point TerminateNode knows it's being reclaimed
	// for good (the !concurrent branch, immediately before the owning
	// pool destructs its slot). Together they let a test wire in
	// internal/audit to catch reclamation bugs that hand a node's slot
	// back to the wrong thread's pool.
	createHook  func(*node[T])
	reclaimHook func(*node[T])
}

// New creates a list that supports up to threadMax concurrently active
// Handles, each allowed DefaultIterMax live iterators.
func New[T any](threadMax int) *List[T] {
	return NewIterMax[T](threadMax, DefaultIterMax)
}

// NewIterMax is New with an explicit per-handle iterator budget.
func NewIterMax[T any](threadMax, iterMax int) *List[T] {
	l := &List[T]{}
	limits := hazard.Limits{LinkMax: 2, LinkDelMax: 2, HazardMax: int8(5 + iterMax)}
	// One extra thread slot is reserved for the sentinel construction
	// below, so the caller's threadMax budget isn't eaten by bootstrap.
	l.mem = hazard.New[node[T], *node[T]](l, limits, threadMax+1)

	boot := l.mem.Join()
	head := boot.CreateNode(func(*node[T]) {})
	tail := boot.CreateNode(func(*node[T]) {})
	boot.StoreRef(&l.head, head, false)
	boot.StoreRef(&l.tail, tail, false)
	boot.StoreRef(&head.next, tail, false)
	boot.StoreRef(&tail.prev, head, false)
	boot.ReleaseRef(head)
	boot.ReleaseRef(tail)
	return l
}

// Len returns the number of elements currently in the list. Like the
// design it's grounded on, the running count can transiently read low
// during concurrent pops, so a negative tally is clamped to zero.
func (l *List[T]) Len() int {
	if n := l.size.Load(); n > 0 {
		return int(n)
	}
	return 0
}

// Handle is a goroutine's participation token for a List, obtained via
// List.Join.
type Handle[T any] struct {
	list      *List[T]
	th        *hazard.Thread[node[T], *node[T]]
	backoff   backoff.Backoff
	backoffCp backoff.Backoff
}

// Join registers the calling goroutine with the list and returns its
// handle.
func (l *List[T]) Join() *Handle[T] {
	return &Handle[T]{list: l, th: l.mem.Join()}
}

func (h *Handle[T]) createNode(val T) *node[T] {
	nd := h.th.CreateNode(func(n *node[T]) { n.val = val })
	if h.list.createHook != nil {
		h.list.createHook(nd)
	}
	return nd
}

// PushFront inserts val at the beginning of the list.
func (h *Handle[T]) PushFront(val T) {
	nd := h.createNode(val)
	prev := h.th.DeRefLink(&h.list.head)
	next := h.th.DeRefLink(&prev.next)
	h.backoff.Reset()
	for {
		h.th.StoreRef(&nd.prev, prev, false)
		h.th.StoreRef(&nd.next, next, false)
		if h.th.CasRef(&prev.next, nd, false, next, false) {
			break
		}
		h.th.ReleaseRef(next)
		next = h.th.DeRefLink(&prev.next)
		h.backoff.Inc()
		h.backoff.Wait()
	}
	h.list.size.Add(1)
	h.th.ReleaseRef(prev)
	h.pushEnd(nd, next)
}

// PushBack appends val to the end of the list.
func (h *Handle[T]) PushBack(val T) {
	nd := h.createNode(val)
	next := h.th.DeRefLink(&h.list.tail)
	prev := h.th.DeRefLink(&next.prev)
	h.backoff.Reset()
	for {
		h.th.StoreRef(&nd.prev, prev, false)
		h.th.StoreRef(&nd.next, next, false)
		if h.th.CasRef(&prev.next, nd, false, next, false) {
			break
		}
		prev = h.correctPrev(prev, next)
		h.backoff.Inc()
		h.backoff.Wait()
	}
	h.list.size.Add(1)
	h.th.ReleaseRef(prev)
	h.pushEnd(nd, next)
}

// PopFront removes and returns the first element. ok is false if the list
// was empty.
func (h *Handle[T]) PopFront() (val T, ok bool) {
	prev := h.th.DeRefLink(&h.list.head)
	h.backoff.Reset()
	for {
		nd := h.th.DeRefLink(&prev.next)
		if nd == h.list.tail.Ptr() {
			h.th.ReleaseRef(nd)
			h.th.ReleaseRef(prev)
			return val, false
		}
		_, nextD := nd.next.Load()
		next := h.th.DeRefLink(&nd.next)
		if nextD {
			h.setMark(&nd.prev)
			h.th.CasRef(&prev.next, next, false, nd, false)
			h.th.ReleaseRef(next)
			h.th.ReleaseRef(nd)
			continue
		}
		if h.th.CasRef(&nd.next, next, true, next, false) {
			h.list.size.Add(-1)
			prev = h.correctPrev(prev, next)
			h.th.ReleaseRef(prev)
			h.th.ReleaseRef(next)
			val = nd.val
			h.th.ReleaseRef(nd)
			h.th.DeleteNode(nd)
			return val, true
		}
		h.th.ReleaseRef(next)
		h.th.ReleaseRef(nd)
		h.backoff.Inc()
		h.backoff.Wait()
	}
}

// PopBack removes and returns the last element. ok is false if the list
// was empty.
func (h *Handle[T]) PopBack() (val T, ok bool) {
	next := h.th.DeRefLink(&h.list.tail)
	nd := h.th.DeRefLink(&next.prev)
	h.backoff.Reset()
	for {
		if !nd.next.Equal(next, false) {
			nd = h.correctPrev(nd, next)
			continue
		}
		if nd == h.list.head.Ptr() {
			h.th.ReleaseRef(nd)
			h.th.ReleaseRef(next)
			return val, false
		}
		if h.th.CasRef(&nd.next, next, true, next, false) {
			h.list.size.Add(-1)
			prev := h.th.DeRefLink(&nd.prev)
			prev = h.correctPrev(prev, next)
			h.th.ReleaseRef(prev)
			h.th.ReleaseRef(next)
			val = nd.val
			h.th.ReleaseRef(nd)
			h.th.DeleteNode(nd)
			return val, true
		}
		h.backoff.Inc()
		h.backoff.Wait()
	}
}

// Front reports the current first element, if any.
func (h *Handle[T]) Front() (val T, ok bool) {
	it := h.Begin()
	defer it.Close()
	if it.AtEnd() || !it.Valid() {
		return val, false
	}
	return it.Value(), true
}

// Back reports the current last element, if any.
func (h *Handle[T]) Back() (val T, ok bool) {
	it := h.RBegin()
	defer it.Close()
	if it.atEnd() || !it.Valid() {
		return val, false
	}
	return it.Value(), true
}

// Clear removes every element from the list.
func (h *Handle[T]) Clear() {
	it := h.Begin()
	for !it.AtEnd() {
		h.Erase(&it)
	}
	it.Close()
}

// pushEnd finalizes a push by fixing up next's prev pointer to point back
// at the freshly linked node, the second half of every push operation.
func (h *Handle[T]) pushEnd(nd, next *node[T]) {
	pNode := nd
	h.backoff.Reset()
	for {
		link, linkD := next.prev.Load()
		if linkD || !nd.next.Equal(next, false) {
			break
		}
		if h.th.CasRef(&next.prev, nd, false, link, linkD) {
			if nd.prev.Marked() {
				pNode = h.correctPrev(nd, next)
			}
			break
		}
		h.backoff.Inc()
		h.backoff.Wait()
	}
	h.th.ReleaseRef(next)
	h.th.ReleaseRef(pNode)
}

// correctPrev repairs target's prev pointer using prevIn as a starting
// guess, walking forward over deleted nodes as needed. It consumes the
// caller's reference to prevIn and returns a node the caller now owns a
// reference to; it does not touch the caller's reference to target.
func (h *Handle[T]) correctPrev(prevIn, target *node[T]) *node[T] {
	prev := prevIn
	var lastLink *node[T]
	h.backoffCp.Reset()
	for {
		link, linkD := target.prev.Load()
		if linkD {
			if lastLink != nil {
				h.th.ReleaseRef(prev)
				prev = lastLink
				lastLink = nil
			}
			break
		}
		prev2D := prev.next.Marked()
		prev2 := h.th.DeRefLink(&prev.next)
		if prev2D {
			if lastLink != nil {
				h.setMark(&prev.prev)
				h.th.CasRef(&lastLink.next, prev2, false, prev, false)
				h.th.ReleaseRef(prev2)
				h.th.ReleaseRef(prev)
				prev = lastLink
				lastLink = nil
				continue
			}
			h.th.ReleaseRef(prev2)
			prev2 = h.th.DeRefLink(&prev.prev)
			h.th.ReleaseRef(prev)
			prev = prev2
			continue
		}
		if prev2 != target {
			if lastLink != nil {
				h.th.ReleaseRef(lastLink)
			}
			lastLink = prev
			prev = prev2
			continue
		}
		h.th.ReleaseRef(prev2)
		if h.th.CasRef(&target.prev, prev, false, link, linkD) {
			if !prev.prev.Marked() {
				break
			}
			continue
		}
		h.backoffCp.Inc()
		h.backoffCp.Wait()
	}
	if lastLink != nil {
		h.th.ReleaseRef(lastLink)
	}
	return prev
}

// setMark sets link's delete bit, leaving its pointer untouched.
func (h *Handle[T]) setMark(link *hazard.Link[node[T]]) {
	for {
		ptr, marked := link.Load()
		if marked {
			break
		}
		if link.CompareAndSwap(ptr, false, ptr, true) {
			break
		}
	}
}

// CleanUpNode implements hazard.Config: it repoints node's prev and next
// links past any chain of already-deleted neighbors, so the reclamation
// sweep never has to walk an unbounded tombstone run.
func (l *List[T]) CleanUpNode(ops hazard.Ops[node[T]], nd *node[T]) {
	for {
		prev := ops.DeRefLink(&nd.prev)
		if prev == nil {
			break
		}
		if !prev.prev.Marked() {
			ops.ReleaseRef(prev)
			break
		}
		prev2 := ops.DeRefLink(&prev.prev)
		ops.CasRef(&nd.prev, prev2, true, prev, true)
		ops.ReleaseRef(prev2)
		ops.ReleaseRef(prev)
	}
	for {
		next := ops.DeRefLink(&nd.next)
		if next == nil {
			break
		}
		if !next.next.Marked() {
			ops.ReleaseRef(next)
			break
		}
		next2 := ops.DeRefLink(&next.next)
		ops.CasRef(&nd.next, next2, true, next, true)
		ops.ReleaseRef(next2)
		ops.ReleaseRef(next)
	}
}

// TerminateNode implements hazard.Config: it nulls node's links so a
// reclaimed node can't keep its neighbors artificially reachable.
// concurrent is true when another thread could still observe the node,
// requiring a CAS rather than a plain store.
func (l *List[T]) TerminateNode(ops hazard.Ops[node[T]], nd *node[T], concurrent bool) {
	if !concurrent {
		ops.StoreRef(&nd.prev, nil, true)
		ops.StoreRef(&nd.next, nil, true)
		if l.reclaimHook != nil {
			l.reclaimHook(nd)
		}
		return
	}
	prev, _ := nd.prev.Load()
	ops.CasRef(&nd.prev, nil, true, prev, true)
	next, _ := nd.next.Load()
	ops.CasRef(&nd.next, nil, true, next, true)
}
