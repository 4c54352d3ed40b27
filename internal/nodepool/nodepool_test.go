package nodepool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct{ val int }

func TestConstructDestructRecycles(t *testing.T) {
	p := New[item](2)

	n1, slot1, tag1 := p.Construct(func(n *item, slot uint32) { n.val = 1 })
	require.NotNil(t, n1)

	p.Destruct(slot1)
	n2, slot2, tag2 := p.Construct(func(n *item, slot uint32) { n.val = 2 })

	assert.Equal(t, slot1, slot2, "recycled slot should be reused")
	assert.NotEqual(t, tag1, tag2, "tag must change across a recycle")
	assert.Same(t, n1, n2, "the node address is retained across recycling")
	assert.Equal(t, 2, n2.val)
}

func TestTaggedHandleRoundTrip(t *testing.T) {
	h := NewTaggedHandle(7, 3)
	assert.Equal(t, uint32(7), h.Slot())
	assert.Equal(t, uint32(3), h.Tag())
	assert.False(t, h.IsNil())

	next := h.NextTag()
	assert.Equal(t, h.Slot(), next.Slot())
	assert.Equal(t, h.Tag()+1, next.Tag())

	assert.True(t, Nil.IsNil())
}

func TestConcurrentConstructGrowsSafely(t *testing.T) {
	p := New[item](1)
	const n = 500
	seen := make([]uint32, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, slot, _ := p.Construct(func(nd *item, slot uint32) { nd.val = i })
			seen[i] = slot
		}(i)
	}
	wg.Wait()

	slots := make(map[uint32]bool, n)
	for _, s := range seen {
		assert.False(t, slots[s], "slot %d handed out twice", s)
		slots[s] = true
	}
	assert.Equal(t, n, p.Capacity())
}
