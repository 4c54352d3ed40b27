// Package nodepool implements the node free-list that sits underneath the
// hazard-pointer memory manager and the lock-free FIFO queue: a lazily
// growing slab that constructs nodes on demand and recycles freed ones,
// tagging each slot with a monotonically increasing counter so a stale
// tagged handle can never be confused with whatever now occupies its slot.
//
// Growth copies only the slab's index of *entry pointers, grounded on the
// copy-on-grow swap used by the teacher's Maps/SpinMap (an
// atomic.Pointer[[]*node] reseated under a resize), so entries already in
// use never move and outstanding *N pointers stay valid for the life of
// the pool. Recycling is a Treiber stack (the free-standing CAS push/pop
// the teacher already uses to splice its Queues/ConcLinkedQueue.go), so
// Construct and Destruct need no lock even when called from different
// goroutines than the one that grew the slab.
package nodepool

import "sync/atomic"

// entry pairs a permanently-allocated node with its recycle tag. Once
// created an entry is never discarded, only recycled, so *entry addresses
// (and therefore *N addresses) are stable for the pool's lifetime.
type entry[N any] struct {
	node *N
	tag  atomic.Uint32
}

type freeNode struct {
	slot uint32
	next *freeNode
}

// Pool is a generic slab allocator for a node type N. The zero value is
// not usable; construct with New.
type Pool[N any] struct {
	slab    atomic.Pointer[[]*entry[N]]
	freeTop atomic.Pointer[freeNode]
}

// New creates a pool with room for at least initial nodes pre-sized.
func New[N any](initial int) *Pool[N] {
	if initial < 1 {
		initial = 1
	}
	p := &Pool[N]{}
	s := make([]*entry[N], 0, initial)
	p.slab.Store(&s)
	return p
}

// Construct allocates a slot (recycled if one is free, otherwise grown
// from the slab) and runs init on the zero-valued *N, passing the slot
// index so the node can record its own handle, before returning the node,
// its slot, and its current recycle tag. Safe to call concurrently from
// any number of goroutines.
func (p *Pool[N]) Construct(init func(n *N, slot uint32)) (node *N, slot uint32, tag uint32) {
	for {
		top := p.freeTop.Load()
		if top == nil {
			break
		}
		if p.freeTop.CompareAndSwap(top, top.next) {
			s := *p.slab.Load()
			e := s[top.slot]
			init(e.node, top.slot)
			return e.node, top.slot, e.tag.Load()
		}
	}

	for {
		old := p.slab.Load()
		s := *old
		grown := s
		if len(s) == cap(s) {
			grown = make([]*entry[N], len(s), cap(s)*3/2+1)
			copy(grown, s)
		}
		e := &entry[N]{node: new(N)}
		slotIdx := uint32(len(grown))
		grown = append(grown, e)
		if p.slab.CompareAndSwap(old, &grown) {
			init(e.node, slotIdx)
			return e.node, slotIdx, e.tag.Load()
		}
	}
}

// Destruct returns slot to the pool's free stack and bumps its tag, so a
// tagged handle minted before this call never again compares equal to a
// handle for whatever gets constructed into the same slot. Safe to call
// from a different goroutine than the one that constructed the slot (a
// deleting thread returns a node to the pool of the thread that
// originally allocated it).
func (p *Pool[N]) Destruct(slot uint32) {
	s := *p.slab.Load()
	s[slot].tag.Add(1)
	n := &freeNode{slot: slot}
	for {
		top := p.freeTop.Load()
		n.next = top
		if p.freeTop.CompareAndSwap(top, n) {
			return
		}
	}
}

// Deref returns the node stored at slot. The slot must have come from a
// prior Construct call on this pool (possibly since recycled).
func (p *Pool[N]) Deref(slot uint32) *N {
	s := *p.slab.Load()
	return s[slot].node
}

// Tag returns the slot's current recycle tag.
func (p *Pool[N]) Tag(slot uint32) uint32 {
	s := *p.slab.Load()
	return s[slot].tag.Load()
}

// Capacity returns the number of slots ever constructed (occupied or
// recycled-but-retained) in the slab.
func (p *Pool[N]) Capacity() int {
	return len(*p.slab.Load())
}

// Reserve ensures the slab's backing array has room for at least capacity
// slots without further growth, pre-sizing the way the queue's
// `reserve`/`capacity` operations require.
func (p *Pool[N]) Reserve(capacity int) {
	for {
		old := p.slab.Load()
		s := *old
		if cap(s) >= capacity {
			return
		}
		grown := make([]*entry[N], len(s), capacity)
		copy(grown, s)
		if p.slab.CompareAndSwap(old, &grown) {
			return
		}
	}
}

// TaggedHandle packs a pool slot index and a recycle tag into one
// CAS-able word, the Go analogue of the queue's single-word tagged
// handle. The tag is the slot's recycle tag, bumped by Destruct, so a
// recycled slot's old handle can never alias the new occupant; publishing
// a handle does not change its tag, and Nil always carries tag zero.
type TaggedHandle uint64

// NilSlot is the slot value representing a nil handle.
const NilSlot = ^uint32(0)

// Nil is the tagged handle with no slot and zero tag.
var Nil = NewTaggedHandle(NilSlot, 0)

// NewTaggedHandle packs slot and tag into one word.
func NewTaggedHandle(slot, tag uint32) TaggedHandle {
	return TaggedHandle(uint64(tag)<<32 | uint64(slot))
}

// Slot returns the packed slot index.
func (h TaggedHandle) Slot() uint32 { return uint32(h) }

// Tag returns the packed recycle tag.
func (h TaggedHandle) Tag() uint32 { return uint32(h >> 32) }

// IsNil reports whether the handle carries no slot.
func (h TaggedHandle) IsNil() bool { return h.Slot() == NilSlot }

// NextTag returns a handle for the same slot with the tag bumped by one.
func (h TaggedHandle) NextTag() TaggedHandle {
	return NewTaggedHandle(h.Slot(), h.Tag()+1)
}
