package tracebuf

import (
	"fmt"

	"github.com/roach88/lanetrace/internal/clock"
	"github.com/roach88/lanetrace/internal/lane"
)

// advance settles the front of the index. It returns the lane holding the
// globally oldest event, or -1 when the buffer is empty, together with the
// front's timestamp: the event's timestamp, or the bound as of which every
// lane was proven empty.
//
// Must be called with the consumer-side lock held.
func (b *Buffer) advance() (int, clock.Timestamp) {
	swept := false
	for {
		s := b.index.front()
		if s.cached {
			return s.lane, s.ts
		}
		if rec, ok := b.lanes[s.lane].Peek(); ok {
			b.cache(s, rec)
			continue
		}
		if !swept {
			b.sweep()
			swept = true
			continue
		}
		if b.cached == 0 {
			return -1, s.ts
		}
		// The front was proven empty, but only as of a bound older than some
		// cached event. Sweep again with a later bound.
		swept = false
	}
}

// sweep proves every uncached lane either non-empty or empty as of a fresh
// timestamp. The timestamp is taken before the barrier so that a write that
// was not visible to the re-peek was stamped after it.
func (b *Buffer) sweep() {
	t := b.clock.Now()
	b.barrier.Wait()
	for id := range b.lanes {
		s := b.index.slot(id)
		if s.cached {
			continue
		}
		if rec, ok := b.lanes[id].Peek(); ok {
			b.cache(s, rec)
			continue
		}
		s.ts = t
		b.index.fix(s)
	}
}

// cache stores rec as the head of s's lane.
func (b *Buffer) cache(s *headSlot, rec lane.Record) {
	if rec.Timestamp <= s.ts {
		panic(fmt.Sprintf("tracebuf: lane %d reported timestamp %d at or below its empty bound %d",
			s.lane, rec.Timestamp, s.ts))
	}
	s.cached = true
	s.ts = rec.Timestamp
	s.rec = rec
	b.cached++
	b.index.fix(s)
}

// consume drops the cached head of s's lane. The lane stays bounded by the
// consumed event's timestamp.
func (b *Buffer) consume(s *headSlot) {
	b.lanes[s.lane].Consume()
	s.cached = false
	s.rec = lane.Record{}
	b.cached--
	b.index.fix(s)
	b.delivered.Add(1)
}

// resetSlots marks every lane empty as of bound.
func (b *Buffer) resetSlots(bound clock.Timestamp) {
	b.index.reset(len(b.lanes), bound)
	b.cached = 0
}
