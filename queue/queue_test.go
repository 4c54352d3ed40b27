package queue

import (
	"sync"
	"testing"

	"github.com/cornelk/hashmap"
	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/emirpasic/gods/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int](0)

	q.Push(1)
	q.Push(2)
	q.Push(3)

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestFrontBack(t *testing.T) {
	q := New[int](0)
	_, ok := q.Front()
	assert.False(t, ok)
	_, ok = q.Back()
	assert.False(t, ok)

	q.Push(10)
	q.Push(20)

	front, ok := q.Front()
	require.True(t, ok)
	assert.Equal(t, 10, front)

	back, ok := q.Back()
	require.True(t, ok)
	assert.Equal(t, 20, back)
}

// TestFIFOOrderLaw cross-checks the lock-free queue against a plain
// sequential queue used single-threaded as an oracle: interleaving
// pushes and pops in the same order on both must yield identical output
// sequences.
func TestFIFOOrderLaw(t *testing.T) {
	q := New[int](0)
	oracle := linkedlistqueue.New()

	ops := []int{1, 2, 3, -1, 4, -1, 5, 6, -1, -1, -1, 7}
	for _, op := range ops {
		if op >= 0 {
			q.Push(op)
			oracle.Enqueue(op)
			continue
		}
		got, gotOK := q.Pop()
		want, wantOK := oracle.Dequeue()
		require.Equal(t, wantOK, gotOK)
		if gotOK {
			assert.Zero(t, utils.IntComparator(got, want.(int)))
		}
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const n = 1000
	q := New[int](n)
	seen := hashmap.New[int, bool]()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push(i)
		}
	}()

	go func() {
		defer wg.Done()
		collected := 0
		for collected < n {
			v, ok := q.Pop()
			if !ok {
				continue
			}
			seen.Set(v, true)
			collected++
		}
	}()

	wg.Wait()
	assert.Equal(t, n, seen.Len())
	for i := 0; i < n; i++ {
		_, ok := seen.Get(i)
		assert.True(t, ok, "value %d missing from output", i)
	}
}
