// Package tlocal is the thread-local registry underneath the hazard memory
// manager: it hands out a stable small integer id to each participant on
// first use and retains the caller-supplied record for the registry's own
// lifetime, never the participant's. Go has no goroutine-local storage, so
// callers obtain a record explicitly via Join and hold onto it for as long
// as they keep calling into the manager from that goroutine — the Go
// analogue of the C++ original's thread::Local<ThreadDataPtr> indirection,
// which exists for exactly the same reason: to decouple record lifetime
// from thread lifetime.
//
// Registration is rare (once per participant) and is guarded by a short
// spin lock, grounded on the teacher's Maps/SpinMap/Node.go Lock/Unlock
// (CAS on a lock word, runtime.Gosched on contention) rather than a
// sync.Mutex, matching "thread-count registration uses a short spin lock"
// from the concurrency model.
package tlocal

import (
	"runtime"
	"sync/atomic"

	"github.com/gmtwostay/lockfree/internal/assert"
)

type spinlock struct{ state atomic.Uint32 }

func (s *spinlock) Lock() {
	for !s.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (s *spinlock) Unlock() { s.state.Store(0) }

// Registry assigns stable ids in [0, max) to records created via Join.
type Registry[T any] struct {
	mu      spinlock
	max     int
	records []*T
}

// New creates a registry that can hold at most max participants.
func New[T any](max int) *Registry[T] {
	return &Registry[T]{max: max, records: make([]*T, 0, max)}
}

// Join registers a new participant, invoking factory with its assigned id
// to build its record. Panics (a programmer error per the core's failure
// semantics) if more than max participants ever join.
func (r *Registry[T]) Join(factory func(id int) *T) (id int, rec *T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.That(len(r.records) < r.max, "too many threads accessing memory manager (max %d)", r.max)
	id = len(r.records)
	rec = factory(id)
	r.records = append(r.records, rec)
	return id, rec
}

// Snapshot returns a copy of every record registered so far, for scans
// that must walk all participants (e.g. hazard-pointer collection).
func (r *Registry[T]) Snapshot() []*T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*T, len(r.records))
	copy(out, r.records)
	return out
}

// At returns the record registered with the given id.
func (r *Registry[T]) At(id int) *T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

// Count returns the number of participants registered so far.
func (r *Registry[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
