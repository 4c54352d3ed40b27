package dlist

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alphadose/haxmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmtwostay/lockfree/internal/audit"
)

func TestPushFrontPopFrontOrder(t *testing.T) {
	l := New[int](4)
	h := l.Join()

	h.PushFront(1)
	h.PushFront(2)
	h.PushFront(3)

	v, ok := h.PopFront()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = h.PopFront()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = h.PopFront()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = h.PopFront()
	assert.False(t, ok)
}

func TestPushBackPopBackOrder(t *testing.T) {
	l := New[int](4)
	h := l.Join()

	h.PushBack(1)
	h.PushBack(2)
	h.PushBack(3)

	v, ok := h.PopBack()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = h.PopFront()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = h.PopFront()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestFrontBackEmpty(t *testing.T) {
	l := New[string](2)
	h := l.Join()

	_, ok := h.Front()
	assert.False(t, ok)
	_, ok = h.Back()
	assert.False(t, ok)

	h.PushBack("a")
	h.PushBack("b")

	front, ok := h.Front()
	require.True(t, ok)
	assert.Equal(t, "a", front)

	back, ok := h.Back()
	require.True(t, ok)
	assert.Equal(t, "b", back)
}

func TestIterateInsertErase(t *testing.T) {
	l := New[int](2)
	h := l.Join()
	for i := 0; i < 5; i++ {
		h.PushBack(i)
	}

	var got []int
	for it := h.Begin(); !it.AtEnd(); it.Next() {
		got = append(got, it.Value())
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	it := h.Begin()
	it.Next()
	it.Next() // positioned at 2
	h.Insert(&it, 99)

	got = nil
	for it := h.Begin(); !it.AtEnd(); it.Next() {
		got = append(got, it.Value())
	}
	assert.Equal(t, []int{0, 1, 99, 2, 3, 4}, got)

	it = h.Begin()
	it.Next() // positioned at 1
	val, erased := h.Erase(&it)
	assert.True(t, erased)
	assert.Equal(t, 1, val)

	got = nil
	for it := h.Begin(); !it.AtEnd(); it.Next() {
		got = append(got, it.Value())
	}
	assert.Equal(t, []int{0, 99, 2, 3, 4}, got)
}

func TestConcurrentPushFourWriters(t *testing.T) {
	const perWriter = 1000
	const writers = 4

	l := New[int](writers + 1)

	// Pre-seed a tally keyed by value 0..perWriter-1: each of the four
	// writer goroutines pushes the full 0..perWriter-1 range once, so the
	// converged tally for every key should read exactly `writers`.
	tally := haxmap.New[int, *atomic.Int64]()
	for i := 0; i < perWriter; i++ {
		tally.Set(i, &atomic.Int64{})
	}

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func() {
			defer wg.Done()
			h := l.Join()
			for i := 0; i < perWriter; i++ {
				h.PushBack(i)
				counter, ok := tally.Get(i)
				require.True(t, ok)
				counter.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, perWriter*writers, l.Len())
	for i := 0; i < perWriter; i++ {
		counter, ok := tally.Get(i)
		require.True(t, ok)
		assert.Equal(t, int64(writers), counter.Load())
	}
}

// TestConcurrentPushEraseCrossThread joins several producer Handles and
// several eraser Handles, so a node is routinely created by one goroutine
// and reclaimed by a different one — the iterator/erase race spec.md
// calls out as needing sanitizer-equivalent validation. internal/audit is
// wired through List's createHook/reclaimHook: it panics immediately if a
// node's address is ever handed out while still tracked live or reclaimed
// while not tracked live, which is exactly the symptom a reclaim
// misdirected at the wrong thread's pool would produce (see
// hazard.TestCrossThreadDeleteReturnsToOwningPool for the narrower
// regression test). Run this file with `go test -race` to also catch any
// plain data race in the push/erase path itself.
func TestConcurrentPushEraseCrossThread(t *testing.T) {
	const producers = 3
	const perProducer = 1500
	const erasers = 3
	total := producers * perProducer

	l := New[int](producers + erasers)
	tracker := audit.New()
	l.createHook = func(n *node[int]) { audit.MarkLive(tracker, n) }
	l.reclaimHook = func(n *node[int]) { audit.MarkFreed(tracker, n) }

	var pwg sync.WaitGroup
	pwg.Add(producers)
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			defer pwg.Done()
			h := l.Join()
			for i := 0; i < perProducer; i++ {
				h.PushBack(p*perProducer + i)
			}
		}()
	}
	pwg.Wait()
	require.Equal(t, total, l.Len())

	seen := haxmap.New[int, bool]()
	var erasedCount atomic.Int64

	var ewg sync.WaitGroup
	ewg.Add(erasers)
	for e := 0; e < erasers; e++ {
		go func() {
			defer ewg.Done()
			h := l.Join()
			for erasedCount.Load() < int64(total) {
				it := h.Begin()
				if it.AtEnd() {
					it.Close()
					continue
				}
				val, ok := h.Erase(&it)
				it.Close()
				if ok {
					seen.Set(val, true)
					erasedCount.Add(1)
				}
			}
		}()
	}
	ewg.Wait()

	assert.Equal(t, 0, l.Len())
	assert.Equal(t, total, seen.Len())
	for i := 0; i < total; i++ {
		_, ok := seen.Get(i)
		assert.True(t, ok, "value %d missing from erased output", i)
	}
	// Thresholds batch reclamation, so a thread's last few deletes may
	// still be pending cleanup at this point; what matters is that
	// audit never panicked above and that reclamation clearly progressed.
	assert.Less(t, tracker.Outstanding(), total)
}
