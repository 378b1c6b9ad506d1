package tracebuf

import (
	"container/heap"

	"github.com/roach88/lanetrace/internal/clock"
)

// deferredCall is a callback waiting for the trace to drain up to at.
type deferredCall struct {
	at  clock.Timestamp
	seq uint64 // insertion order among equal snapshots
	fn  func()
}

// deferredQueue orders callbacks by snapshot timestamp.
type deferredQueue struct {
	calls []deferredCall
	next  uint64
}

func (q *deferredQueue) Len() int { return len(q.calls) }

func (q *deferredQueue) Less(i, j int) bool {
	if q.calls[i].at != q.calls[j].at {
		return q.calls[i].at < q.calls[j].at
	}
	return q.calls[i].seq < q.calls[j].seq
}

func (q *deferredQueue) Swap(i, j int) { q.calls[i], q.calls[j] = q.calls[j], q.calls[i] }

func (q *deferredQueue) Push(x any) { q.calls = append(q.calls, x.(deferredCall)) }

func (q *deferredQueue) Pop() any {
	n := len(q.calls)
	c := q.calls[n-1]
	q.calls[n-1] = deferredCall{}
	q.calls = q.calls[:n-1]
	return c
}

// add queues fn to run once everything older than at has drained.
func (q *deferredQueue) add(at clock.Timestamp, fn func()) {
	heap.Push(q, deferredCall{at: at, seq: q.next, fn: fn})
	q.next++
}

// due removes and returns, in snapshot order, every callback whose snapshot
// is below bound.
func (q *deferredQueue) due(bound clock.Timestamp) []func() {
	var fns []func()
	for len(q.calls) > 0 && q.calls[0].at < bound {
		c := heap.Pop(q).(deferredCall)
		fns = append(fns, c.fn)
	}
	return fns
}

// drain removes and returns every callback in snapshot order.
func (q *deferredQueue) drain() []func() {
	fns := make([]func(), 0, len(q.calls))
	for len(q.calls) > 0 {
		c := heap.Pop(q).(deferredCall)
		fns = append(fns, c.fn)
	}
	return fns
}

// discard drops every callback without running it.
func (q *deferredQueue) discard() int {
	n := len(q.calls)
	q.calls = nil
	return n
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
