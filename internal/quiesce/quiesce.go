// Package quiesce implements the "wait for quiescence" barrier used by the
// merge engine.
//
// Every writer context owns a Gate and brackets each write with Enter and
// Exit. The gate's generation is odd while a write is in flight. Group.Wait
// snapshots every gate and, for each one that is odd, waits until its
// generation moves on. When Wait returns, every write that was in flight
// when it was called has completed and is visible to readers.
//
// Enter/Exit pairs on one gate must not overlap; the lane serializes its
// writers before entering.
package quiesce

import (
	"runtime"
	"sync/atomic"
	"time"
)

// spinsBeforeSleep bounds busy-waiting on a gate before Wait backs off to
// short sleeps.
const spinsBeforeSleep = 128

// Gate tracks the in-flight state of one writer context.
type Gate struct {
	gen atomic.Uint64
}

// Enter marks the start of a write. The generation becomes odd.
func (g *Gate) Enter() {
	g.gen.Add(1)
}

// Exit marks the end of a write. The generation becomes even.
func (g *Gate) Exit() {
	g.gen.Add(1)
}

// Generation returns the current generation.
func (g *Gate) Generation() uint64 {
	return g.gen.Load()
}

// Busy reports whether a write is in flight.
func (g *Gate) Busy() bool {
	return g.gen.Load()&1 == 1
}

// Group is a barrier over a fixed set of gates.
type Group struct {
	gates []*Gate
}

// NewGroup creates a barrier over gates.
func NewGroup(gates ...*Gate) *Group {
	return &Group{gates: gates}
}

// Len returns the number of gates in the group.
func (g *Group) Len() int {
	return len(g.gates)
}

// Wait blocks until every write that was in flight at the time of the call
// has completed. Writes that start after the call are not waited for.
func (g *Group) Wait() {
	snap := make([]uint64, len(g.gates))
	for i, gate := range g.gates {
		snap[i] = gate.Generation()
	}

	for i, gate := range g.gates {
		if snap[i]&1 == 0 {
			continue
		}
		for spins := 0; gate.Generation() == snap[i]; spins++ {
			if spins < spinsBeforeSleep {
				runtime.Gosched()
				continue
			}
			time.Sleep(time.Microsecond)
		}
	}
}
