// Package hazard implements a lock-free memory manager for concurrent
// algorithms, based on the paper "Efficient and Reliable Lock-Free Memory
// Reclamation Based on Reference Counting" (Gidenstam et al., 2005). It is
// the core the rest of this module is built on: the lock-free
// doubly-linked list in package dlist reclaims its nodes through a
// hazard.Manager; the FIFO queue and the SPSC deque do not (the queue
// reclaims through its node pool's tagged handles directly, and the SPSC
// deque doesn't reclaim individual nodes at all).
//
// A Manager is parameterized over a container's node type N, which must
// embed Base and expose it via a Base() method — the Go equivalent of
// inheriting from HazardMemNode in the original design. Each goroutine
// that calls into the manager joins once via Join and keeps the returned
// *Thread for the rest of its interaction with the container, since Go
// has no implicit per-goroutine storage to hang this bookkeeping from.
package hazard

import (
	"sync/atomic"
	"unsafe"

	"github.com/gmtwostay/lockfree/internal/assert"
	"github.com/gmtwostay/lockfree/internal/nodepool"
	"github.com/gmtwostay/lockfree/internal/tlocal"
)

// localHazard is a node's bookkeeping for a single thread: which of that
// thread's hazard-pointer slots (if any) currently announces this node,
// and how many times that thread has taken a reference to it. Only the
// thread at the matching index ever reads or writes its own entry, so no
// synchronization is needed here even though the slice is reachable from
// every thread that has ever touched the node.
type localHazard struct {
	index int8 // -1 = none
	ref   int8
}

// Base is the per-node bookkeeping a container's node type must embed to
// participate in hazard-pointer reclamation: a cross-thread reference
// count, the trace/del flags scan uses to decide reclaimability, and each
// thread's private hazard bookkeeping for this node.
type Base struct {
	threadID int32 // id of the thread whose pool owns this node
	slot     uint32
	ref      atomic.Int32
	trace    atomic.Bool
	del      atomic.Bool
	hazards  []localHazard
}

func (b *Base) local(id int32) *localHazard { return &b.hazards[id] }

// NodeAPI is the constraint a container's node type N must satisfy: *N
// must expose its embedded Base.
type NodeAPI[N any] interface {
	*N
	Base() *Base
}

// Ops is the subset of Thread's API a Config callback needs to touch other
// nodes' links while cleaning up or reclaiming one. It exists because
// CleanUpNode/TerminateNode run on whatever thread happens to be driving
// reclamation (its own delete, or another thread's cleanUpAll/scan sweep)
// and must use that calling thread's own hazard slots, never the slots of
// the thread that originally owns the node — Thread[N, P] satisfies this
// interface without needing P, so Config can stay parameterized on N alone.
type Ops[N any] interface {
	DeRefLink(link *Link[N]) *N
	Ref(node *N)
	ReleaseRef(node *N)
	CasRef(link *Link[N], newPtr *N, newMark bool, oldPtr *N, oldMark bool) bool
	StoreRef(link *Link[N], newPtr *N, newMark bool)
}

// Config supplies the two container-specific callbacks the reclamation
// protocol calls during cleanup and reclaim.
type Config[N any] interface {
	// CleanUpNode replaces any outgoing link in a logically-deleted node
	// that still points at another deleted node with a link to the next
	// live node, so traversals crossing tombstones still terminate in
	// bounded steps.
	CleanUpNode(ops Ops[N], node *N)
	// TerminateNode nulls all outgoing links of a node about to be
	// reclaimed. concurrent is false when the caller can prove no other
	// thread can observe the node anymore, permitting non-atomic writes.
	TerminateNode(ops Ops[N], node *N, concurrent bool)
}

// Limits bounds the shape of a container's node: how many outgoing links
// a node has, how many of those may transiently reference a deleted
// node, and how many hazard-pointer slots each thread gets.
type Limits struct {
	LinkMax    int
	LinkDelMax int
	HazardMax  int8
}

// Manager is a lock-free memory manager for nodes of type N.
type Manager[N any, P NodeAPI[N]] struct {
	config      Config[N]
	limits      Limits
	threadMax   int
	threshClean int
	threshScan  int
	registry    *tlocal.Registry[Thread[N, P]]
}

// New constructs a manager. threadMax bounds how many goroutines may ever
// Join; exceeding it is a programmer error (use a worker pool with a
// longer lifetime than the manager instead of joining per-operation).
func New[N any, P NodeAPI[N]](config Config[N], limits Limits, threadMax int) *Manager[N, P] {
	threshClean := threadMax * (int(limits.HazardMax) + limits.LinkMax + limits.LinkDelMax + 1)
	threshScan := int(limits.HazardMax) * 2
	if threshScan > threshClean {
		threshScan = threshClean
	}
	return &Manager[N, P]{
		config:      config,
		limits:      limits,
		threadMax:   threadMax,
		threshClean: threshClean,
		threshScan:  threshScan,
		registry:    tlocal.New[Thread[N, P]](threadMax),
	}
}

// delEntry is a reclamation-list entry: a node this thread has logically
// deleted but not yet reclaimed. claim and done are touched by other
// threads during cleanUpAll, so they're atomic; next/node-ownership
// bookkeeping beyond that is owner-thread-only.
type delEntry[N any] struct {
	node  atomic.Pointer[N]
	claim atomic.Int32
	done  atomic.Bool
	next  int32
}

// Thread is a goroutine's participation handle for a Manager. Obtain one
// via Manager.Join and reuse it for every subsequent call from that
// goroutine.
type Thread[N any, P NodeAPI[N]] struct {
	mgr *Manager[N, P]
	id  int32

	hazards    []atomic.Pointer[N] // this thread's announced hazard pointers
	hazardFree []int8              // free hazard-slot indices, owner-only

	pool *nodepool.Pool[N] // this thread's node pool

	delNodes []delEntry[N] // fixed-size reclamation array, size threshClean
	delFree  []int32       // free indices into delNodes, owner-only
	delHead  int32         // index of first in-use delNodes entry, -1 = none
	delCount int
}

// Join registers the calling goroutine with the manager and returns its
// participation handle.
func (m *Manager[N, P]) Join() *Thread[N, P] {
	_, th := m.registry.Join(func(id int) *Thread[N, P] {
		t := &Thread[N, P]{
			mgr:        m,
			id:         int32(id),
			hazards:    make([]atomic.Pointer[N], m.limits.HazardMax),
			hazardFree: make([]int8, m.limits.HazardMax),
			pool:       nodepool.New[N](m.threshClean),
			delNodes:   make([]delEntry[N], m.threshClean),
			delFree:    make([]int32, m.threshClean),
			delHead:    -1,
		}
		for i := range t.hazardFree {
			t.hazardFree[i] = int8(len(t.hazardFree)) - 1 - int8(i)
		}
		for i := range t.delFree {
			t.delFree[i] = int32(len(t.delFree)) - 1 - int32(i)
		}
		for i := range t.delNodes {
			t.delNodes[i].next = -1
		}
		return t
	})
	return th
}

// CreateNode allocates a node from this thread's pool, running init to
// set up container-specific fields, with ref starting at one for the
// caller. The node's Base is wired up before init runs so init may safely
// touch container fields that reference it.
func (th *Thread[N, P]) CreateNode(init func(n *N)) *N {
	node, slot, _ := th.pool.Construct(func(n *N, slot uint32) {
		b := P(n).Base()
		b.threadID = th.id
		b.slot = slot
		b.ref.Store(0)
		b.trace.Store(false)
		b.del.Store(false)
		b.hazards = make([]localHazard, th.mgr.threadMax)
		for i := range b.hazards {
			b.hazards[i].index = -1
		}
		init(n)
	})
	_ = slot
	th.Ref(node)
	return node
}

// DeleteNode logically detaches node: marks it del/untraced and moves it
// onto this thread's reclamation list, running cleanUpLocal/scan/
// cleanUpAll as the thresholds in Limits dictate.
func (th *Thread[N, P]) DeleteNode(node *N) {
	b := P(node).Base()
	b.del.Store(true)
	b.trace.Store(false)

	assert.That(len(th.delFree) > 0, "not enough reclamation entries, thresholds were miscomputed")
	idx := th.delFree[len(th.delFree)-1]
	th.delFree = th.delFree[:len(th.delFree)-1]

	e := &th.delNodes[idx]
	e.done.Store(false)
	e.node.Store(node)
	e.next = th.delHead
	th.delHead = idx
	th.delCount++

	for {
		if th.delCount == th.mgr.threshClean {
			th.cleanUpLocal()
		}
		if th.delCount >= th.mgr.threshScan {
			th.scan()
		}
		if th.delCount == th.mgr.threshClean {
			th.cleanUpAll()
		} else {
			break
		}
	}
}

// DeRefLink dereferences link, publishing the result in a hazard slot so
// the node (if any) can't be reclaimed out from under the caller. May
// return nil.
func (th *Thread[N, P]) DeRefLink(link *Link[N]) *N {
	assert.That(len(th.hazardFree) > 0, "not enough hazard pointers (hazardMax too small)")
	index := th.hazardFree[len(th.hazardFree)-1]

	var node *N
	for {
		node, _ = link.Load()
		th.hazards[index].Store(node)
		if node2, _ := link.Load(); node2 == node {
			break
		}
	}

	if node != nil {
		lh := P(node).Base().local(th.id)
		lh.ref++
		if lh.ref > 1 {
			th.hazards[index].Store(nil)
		} else {
			lh.index = int8(index)
			th.hazardFree = th.hazardFree[:len(th.hazardFree)-1]
		}
	} else {
		th.hazards[index].Store(nil)
	}
	return node
}

// Ref takes a reference to node, announcing a hazard pointer if this
// thread doesn't already hold one.
func (th *Thread[N, P]) Ref(node *N) {
	lh := P(node).Base().local(th.id)
	lh.ref++
	if lh.ref > 1 {
		return
	}
	assert.That(len(th.hazardFree) > 0, "not enough hazard pointers (hazardMax too small)")
	index := th.hazardFree[len(th.hazardFree)-1]
	th.hazardFree = th.hazardFree[:len(th.hazardFree)-1]
	lh.index = int8(index)
	th.hazards[index].Store(node)
}

// ReleaseRef releases a reference taken by Ref or DeRefLink, clearing the
// hazard slot once this thread's hold count reaches zero.
func (th *Thread[N, P]) ReleaseRef(node *N) {
	lh := P(node).Base().local(th.id)
	lh.ref--
	if lh.ref > 0 {
		return
	}
	assert.That(lh.ref == 0, "hazard pointer already released")
	th.hazards[lh.index].Store(nil)
	th.hazardFree = append(th.hazardFree, lh.index)
	lh.index = -1
}

// CasRef compares-and-swaps link from (oldPtr,oldMark) to (newPtr,newMark).
// On success, bumps newPtr's ref (and clears its trace) before
// decrementing oldPtr's ref — publish-before-unpublish is load-bearing: it
// prevents ref from transiently reading zero while the node is still
// reachable through the link.
func (th *Thread[N, P]) CasRef(link *Link[N], newPtr *N, newMark bool, oldPtr *N, oldMark bool) bool {
	if !link.CompareAndSwap(oldPtr, oldMark, newPtr, newMark) {
		return false
	}
	if newPtr != nil {
		b := P(newPtr).Base()
		b.ref.Add(1)
		b.trace.Store(false)
	}
	if oldPtr != nil {
		P(oldPtr).Base().ref.Add(-1)
	}
	return true
}

// StoreRef sets link unconditionally, for single-threaded contexts
// (construction/teardown), with the same ref bookkeeping as CasRef.
func (th *Thread[N, P]) StoreRef(link *Link[N], newPtr *N, newMark bool) {
	oldPtr, _ := link.Load()
	link.Store(newPtr, newMark)
	if newPtr != nil {
		b := P(newPtr).Base()
		b.ref.Add(1)
		b.trace.Store(false)
	}
	if oldPtr != nil {
		P(oldPtr).Base().ref.Add(-1)
	}
}

// cleanUpLocal invokes the container's CleanUpNode on every node this
// thread has deleted but not yet reclaimed.
func (th *Thread[N, P]) cleanUpLocal() {
	for i := th.delHead; i != -1; i = th.delNodes[i].next {
		if node := th.delNodes[i].node.Load(); node != nil {
			th.mgr.config.CleanUpNode(th, node)
		}
	}
}

// cleanUpAll invokes CleanUpNode across every thread's reclamation array
// (not just its live linked list — this intentionally also catches
// entries observed mid-recycle, per the design's scan-the-array choice),
// guarding each entry with its claim counter so scan can't reclaim a node
// out from under a concurrent CleanUpNode call.
func (th *Thread[N, P]) cleanUpAll() {
	for _, other := range th.mgr.registry.Snapshot() {
		for i := range other.delNodes {
			e := &other.delNodes[i]
			node := e.node.Load()
			if node == nil || e.done.Load() {
				continue
			}
			e.claim.Add(1)
			if e.node.Load() == node {
				th.mgr.config.CleanUpNode(th, node)
			}
			e.claim.Add(-1)
		}
	}
}

// scan walks this thread's reclamation list in three phases: establish a
// consistent ref==0-and-stayed-zero witness via trace, snapshot every
// thread's hazard pointers, then reclaim whatever isn't hazarded. A fully
// reclaimed node's slot is always returned to the pool of the thread that
// originally built it (node.threadID), not this thread's own pool — a
// node routinely gets deleted by a different thread than the one that
// created it, and b.slot only means anything relative to the owning
// thread's slab.
func (th *Thread[N, P]) scan() {
	for i := th.delHead; i != -1; i = th.delNodes[i].next {
		node := th.delNodes[i].node.Load()
		if node == nil {
			continue
		}
		b := P(node).Base()
		if b.ref.Load() == 0 {
			b.trace.Store(true)
			if b.ref.Load() != 0 {
				b.trace.Store(false)
			}
		}
	}

	hazardous := make(map[*N]struct{})
	for _, other := range th.mgr.registry.Snapshot() {
		for i := range other.hazards {
			if node := other.hazards[i].Load(); node != nil {
				hazardous[node] = struct{}{}
			}
		}
	}

	newHead := int32(-1)
	newCount := 0
	for i := th.delHead; i != -1; {
		next := th.delNodes[i].next
		e := &th.delNodes[i]
		node := e.node.Load()
		b := P(node).Base()
		_, hazarded := hazardous[node]
		if b.ref.Load() == 0 && b.trace.Load() && !hazarded {
			e.node.Store(nil)
			if e.claim.Load() == 0 {
				th.mgr.config.TerminateNode(th, node, false)
				th.delFree = append(th.delFree, i)
				th.mgr.registry.At(int(b.threadID)).pool.Destruct(b.slot)
				i = next
				continue
			}
			th.mgr.config.TerminateNode(th, node, true)
			e.done.Store(true)
			e.node.Store(node)
		}
		e.next = newHead
		newHead = i
		newCount++
		i = next
	}

	th.delHead = newHead
	th.delCount = newCount
}

// Link is the machine-word-sized cell a container stores a (possibly
// marked) node pointer in: low bit is an auxiliary mark (the list's
// delete bit), the rest packs the pointer. Nodes must be at least
// 2-byte-aligned, which every Go allocation of a multi-field struct
// already is; pack asserts this, since the mark bit would otherwise have
// nowhere to go.
type Link[N any] struct {
	word atomic.Uintptr
}

func pack[N any](ptr *N, marked bool) uintptr {
	w := uintptr(unsafe.Pointer(ptr))
	assert.That(w&1 == 0, "node pointer not 2-byte aligned, bit found outside mask")
	if marked {
		w |= 1
	}
	return w
}

// Load returns the link's current pointer and mark bit.
func (l *Link[N]) Load() (ptr *N, marked bool) {
	w := l.word.Load()
	return (*N)(unsafe.Pointer(w &^ 1)), w&1 != 0
}

// Ptr returns the link's current pointer, ignoring the mark.
func (l *Link[N]) Ptr() *N {
	p, _ := l.Load()
	return p
}

// Marked reports the link's current mark bit.
func (l *Link[N]) Marked() bool {
	_, m := l.Load()
	return m
}

// Store unconditionally sets the link's pointer and mark.
func (l *Link[N]) Store(ptr *N, marked bool) {
	l.word.Store(pack(ptr, marked))
}

// CompareAndSwap atomically sets the link to (newPtr,newMark) if it
// currently holds (oldPtr,oldMark).
func (l *Link[N]) CompareAndSwap(oldPtr *N, oldMark bool, newPtr *N, newMark bool) bool {
	return l.word.CompareAndSwap(pack(oldPtr, oldMark), pack(newPtr, newMark))
}

// Equal reports whether the link currently holds exactly (ptr,marked).
func (l *Link[N]) Equal(ptr *N, marked bool) bool {
	p, m := l.Load()
	return p == ptr && m == marked
}
