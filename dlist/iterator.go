package dlist

import "github.com/gmtwostay/lockfree/internal/assert"

// Iter is a forward iterator over a List. It is not safe for concurrent
// use, consumes one of its owning Handle's hazard-pointer slots for as
// long as it's open, and must be closed with Close when no longer needed.
type Iter[T any] struct {
	h   *Handle[T]
	cur *node[T]
}

func newIter[T any](h *Handle[T], end bool) Iter[T] {
	var cur *node[T]
	if end {
		cur = h.list.tail.Ptr()
	} else {
		cur = h.list.head.Ptr()
	}
	h.th.Ref(cur)
	return Iter[T]{h: h, cur: cur}
}

// Begin returns an iterator positioned at the list's first element.
func (h *Handle[T]) Begin() Iter[T] {
	it := newIter(h, false)
	it.Next()
	return it
}

// End returns an iterator positioned one past the list's last element.
func (h *Handle[T]) End() Iter[T] {
	return newIter(h, true)
}

// Close releases the hazard-pointer slot this iterator holds. Safe to
// call more than once.
func (it *Iter[T]) Close() {
	if it.cur != nil {
		it.h.th.ReleaseRef(it.cur)
		it.cur = nil
	}
}

// Next advances the iterator to the next element, skipping over nodes
// deleted since the iterator last stopped.
func (it *Iter[T]) Next() {
	for {
		if it.cur == it.h.list.tail.Ptr() {
			return
		}
		next := it.h.th.DeRefLink(&it.cur.next)
		d := next.next.Marked()
		if d && !it.cur.next.Equal(next, true) {
			it.h.setMark(&next.prev)
			nn := next.next.Ptr()
			it.h.th.CasRef(&it.cur.next, nn, false, next, false)
			it.h.th.ReleaseRef(next)
			continue
		}
		it.h.th.ReleaseRef(it.cur)
		it.cur = next
		if !d {
			return
		}
	}
}

// Prev moves the iterator to the previous element.
func (it *Iter[T]) Prev() {
	for {
		if it.cur == it.h.list.head.Ptr() {
			return
		}
		prev := it.h.th.DeRefLink(&it.cur.prev)
		_, curD := it.cur.next.Load()
		if prev.next.Equal(it.cur, false) && !curD {
			it.h.th.ReleaseRef(it.cur)
			it.cur = prev
			return
		}
		if curD {
			it.h.th.ReleaseRef(prev)
			it.Next()
			continue
		}
		prev = it.h.correctPrev(prev, it.cur)
		it.h.th.ReleaseRef(prev)
	}
}

// AtEnd reports whether the iterator is at the list's end position.
func (it *Iter[T]) AtEnd() bool { return it.cur == it.h.list.tail.Ptr() }

func (it *Iter[T]) atEnd() bool { return it.cur == it.h.list.head.Ptr() }

// Valid reports whether the iterator's current element has not been
// deleted since the iterator stopped there.
func (it *Iter[T]) Valid() bool { return !it.cur.next.Marked() }

// Value returns the element at the iterator's current position.
func (it *Iter[T]) Value() T { return it.cur.val }

// IterR is a reverse iterator, built on top of an Iter.
type IterR[T any] struct{ it Iter[T] }

// RBegin returns a reverse iterator positioned at the list's last
// element.
func (h *Handle[T]) RBegin() IterR[T] {
	e := h.End()
	e.Prev()
	return IterR[T]{it: e}
}

// REnd returns a reverse iterator positioned one before the list's first
// element.
func (h *Handle[T]) REnd() IterR[T] {
	return IterR[T]{it: newIter(h, false)}
}

// Close releases the underlying iterator's hazard-pointer slot.
func (r *IterR[T]) Close() { r.it.Close() }

func (r *IterR[T]) atEnd() bool { return r.it.atEnd() }

// Next advances the reverse iterator toward the list's beginning.
func (r *IterR[T]) Next() { r.it.Prev() }

// Prev moves the reverse iterator toward the list's end.
func (r *IterR[T]) Prev() { r.it.Next() }

// Valid reports whether the reverse iterator's current element has not
// been deleted.
func (r *IterR[T]) Valid() bool { return r.it.Valid() }

// Value returns the element at the reverse iterator's current position.
func (r *IterR[T]) Value() T { return r.it.Value() }

// Insert inserts val immediately before it's current position and
// rewrites it to point at the newly inserted element.
func (h *Handle[T]) Insert(it *Iter[T], val T) {
	assert.That(it.cur != h.list.head.Ptr(), "cannot insert before the list's head sentinel")

	nd := h.createNode(val)
	prev := h.th.DeRefLink(&it.cur.prev)
	var next *node[T]
	h.backoff.Reset()
	for {
		for it.cur.next.Marked() {
			it.Next()
			prev = h.correctPrev(prev, it.cur)
		}
		next = it.cur
		h.th.StoreRef(&nd.prev, prev, false)
		h.th.StoreRef(&nd.next, next, false)
		if h.th.CasRef(&prev.next, nd, false, it.cur, false) {
			break
		}
		prev = h.correctPrev(prev, it.cur)
		h.backoff.Inc()
		h.backoff.Wait()
	}
	h.list.size.Add(1)
	h.th.ReleaseRef(prev)
	h.th.Ref(nd)
	h.th.ReleaseRef(h.correctPrev(nd, next))
	h.th.ReleaseRef(next)
	it.cur = nd
}

// Erase removes the element at it's current position, reports whether
// this call is the one that erased it (false if another goroutine beat
// it to it), and advances it to the next live element.
func (h *Handle[T]) Erase(it *Iter[T]) (val T, erased bool) {
	nd := it.cur
	assert.That(nd != h.list.head.Ptr() && nd != h.list.tail.Ptr(), "cannot erase a sentinel")
	for {
		nextD := nd.next.Marked()
		next := h.th.DeRefLink(&nd.next)
		if nextD {
			h.th.ReleaseRef(next)
			break
		}
		if h.th.CasRef(&nd.next, next, true, next, false) {
			erased = true
			h.list.size.Add(-1)
			var prev *node[T]
			for {
				prevD := nd.prev.Marked()
				prev = h.th.DeRefLink(&nd.prev)
				if prevD || h.th.CasRef(&nd.prev, prev, true, prev, false) {
					break
				}
				h.th.ReleaseRef(prev)
			}
			prev = h.correctPrev(prev, next)
			h.th.ReleaseRef(prev)
			h.th.ReleaseRef(next)
			val = nd.val
			h.th.DeleteNode(nd)
			break
		}
		h.th.ReleaseRef(next)
	}
	it.Next()
	return val, erased
}
