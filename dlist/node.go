package dlist

import "github.com/gmtwostay/lockfree/hazard"

// node is a list element: two hazard-managed links (each packing a
// pointer plus a delete mark, per Sundell et al.) and the stored value.
type node[T any] struct {
	base hazard.Base
	next hazard.Link[node[T]]
	prev hazard.Link[node[T]]
	val  T
}

func (n *node[T]) Base() *hazard.Base { return &n.base }
