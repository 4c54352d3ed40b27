package spscdeque

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushFrontPushBackOrder(t *testing.T) {
	d := New[int](0)

	d.PushBack(2)
	d.PushBack(3)
	d.PushFront(1)

	var got []int
	for {
		v, ok := d.PopFront()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestPopBackOrder(t *testing.T) {
	d := New[int](0)
	for i := 0; i < 5; i++ {
		d.PushBack(i)
	}

	var got []int
	for {
		v, ok := d.PopBack()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{4, 3, 2, 1, 0}, got)
}

func TestEmptyPop(t *testing.T) {
	d := New[int](0)
	_, ok := d.PopFront()
	assert.False(t, ok)
	_, ok = d.PopBack()
	assert.False(t, ok)
}

func TestExpandAcrossWrap(t *testing.T) {
	d := New[int](2)
	d.PushBack(1)
	d.PushBack(2)
	// Forces ringInc to wrap, then a grow while head != 0.
	v, ok := d.PopFront()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	d.PushBack(3)
	d.PushBack(4)
	d.PushBack(5)

	var got []int
	for {
		v, ok := d.PopFront()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4, 5}, got)
}

func TestResize(t *testing.T) {
	d := New[int](0)
	d.Resize(3, 7)
	assert.Equal(t, 3, d.Len())

	var got []int
	for {
		v, ok := d.PopFront()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 7, 7}, got)
}

// TestSingleProducerSingleConsumer is the intended usage mode: one
// goroutine only ever pushes at the back, another only ever pops from the
// front, contending on the ring buffer's shared boundary only near empty.
func TestSingleProducerSingleConsumer(t *testing.T) {
	const n = 10000
	d := New[int](16)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			d.PushBack(i)
		}
	}()

	var got []int
	go func() {
		defer wg.Done()
		for len(got) < n {
			v, ok := d.PopFront()
			if !ok {
				continue
			}
			got = append(got, v)
		}
	}()

	wg.Wait()
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}
