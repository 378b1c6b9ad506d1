package tracebuf

import (
	"container/heap"

	"github.com/roach88/lanetrace/internal/clock"
	"github.com/roach88/lanetrace/internal/lane"
)

// headSlot is the reader's view of one lane: a cached event or an empty
// bound. ts is the event's timestamp when cached, the bound otherwise.
type headSlot struct {
	lane   int
	cached bool
	ts     clock.Timestamp
	rec    lane.Record
	pos    int // position in orderedIndex.order
}

// before defines the total order of the index: timestamp first, lane
// identifier to break ties between equal bounds.
func before(a, b *headSlot) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.lane < b.lane
}

// orderedIndex is a binary heap of lane identifiers keyed by their slots.
// Slots live in a fixed array and are referenced by lane index.
type orderedIndex struct {
	slots []headSlot
	order []int
}

func newOrderedIndex(lanes int, bound clock.Timestamp) *orderedIndex {
	x := &orderedIndex{}
	x.reset(lanes, bound)
	return x
}

// reset makes every lane empty as of bound.
func (x *orderedIndex) reset(lanes int, bound clock.Timestamp) {
	x.slots = make([]headSlot, lanes)
	x.order = make([]int, lanes)
	for i := range x.slots {
		x.slots[i] = headSlot{lane: i, ts: bound, pos: i}
		x.order[i] = i
	}
	heap.Init(x)
}

// front returns the slot with the smallest key.
func (x *orderedIndex) front() *headSlot {
	return &x.slots[x.order[0]]
}

// slot returns the slot of lane id.
func (x *orderedIndex) slot(id int) *headSlot {
	return &x.slots[id]
}

// fix restores heap order after s's key changed.
func (x *orderedIndex) fix(s *headSlot) {
	heap.Fix(x, s.pos)
}

// Len implements heap.Interface.
func (x *orderedIndex) Len() int { return len(x.order) }

// Less implements heap.Interface.
func (x *orderedIndex) Less(i, j int) bool {
	return before(&x.slots[x.order[i]], &x.slots[x.order[j]])
}

// Swap implements heap.Interface.
func (x *orderedIndex) Swap(i, j int) {
	x.order[i], x.order[j] = x.order[j], x.order[i]
	x.slots[x.order[i]].pos = i
	x.slots[x.order[j]].pos = j
}

// Push implements heap.Interface. The index never grows after reset.
func (x *orderedIndex) Push(any) {
	panic("tracebuf: orderedIndex does not grow")
}

// Pop implements heap.Interface. The index never shrinks after reset.
func (x *orderedIndex) Pop() any {
	panic("tracebuf: orderedIndex does not shrink")
}
