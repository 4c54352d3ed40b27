// Package audit is a debug-only outstanding-node tracker used by tests to
// catch double-frees and leaks in the reclamation packages without
// needing a C++-style sanitizer: every node address a container
// constructs is recorded, and every address it reclaims is required to
// already be on record exactly once.
//
// It is never imported by hazard, dlist, queue, or spscdeque themselves —
// only by their tests — the same "instrumented build vs. production
// build" split spec.md draws between an ASan-checked test binary and the
// shipped library.
package audit

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/petar/GoLLRB/llrb"
)

func addr[T any](ptr *T) uintptr { return uintptr(unsafe.Pointer(ptr)) }

type addrItem uintptr

func (a addrItem) Less(than llrb.Item) bool { return a < than.(addrItem) }

// Tracker records which node addresses are currently considered live.
type Tracker struct {
	mu   sync.Mutex
	tree *llrb.LLRB
}

// New creates an empty tracker.
func New() *Tracker { return &Tracker{tree: llrb.New()} }

// MarkLive records ptr as live. Panics if ptr is already tracked, which
// would mean a container handed out an address it hadn't reclaimed.
func MarkLive[T any](t *Tracker, ptr *T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item := addrItem(addr(ptr))
	if t.tree.Has(item) {
		panic(fmt.Sprintf("audit: address %p constructed while already live", ptr))
	}
	t.tree.ReplaceOrInsert(item)
}

// MarkFreed removes ptr from the live set. Panics if ptr wasn't tracked,
// which would mean a double free or a free of an untracked node.
func MarkFreed[T any](t *Tracker, ptr *T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item := addrItem(addr(ptr))
	if t.tree.Delete(item) == nil {
		panic(fmt.Sprintf("audit: address %p freed while not live", ptr))
	}
}

// Outstanding returns the number of addresses currently marked live.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Len()
}
