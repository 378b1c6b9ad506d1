package tracebuf

import (
	"context"
	"fmt"

	"github.com/roach88/lanetrace/internal/lane"
)

// Stats is a point-in-time summary of a buffer.
type Stats struct {
	Lanes     int    `json:"lanes"`
	LaneSize  int    `json:"lane_size"`
	Policy    string `json:"policy"`
	Pending   int    `json:"pending"`
	Lost      uint64 `json:"lost"`
	Delivered uint64 `json:"delivered"`
	Deferred  int    `json:"deferred"`
}

// Stats returns counters for the buffer. Pending, Lost and Delivered are
// read without stopping writers and may be mutually inconsistent.
func (b *Buffer) Stats() Stats {
	st := Stats{
		Lanes:     len(b.lanes),
		LaneSize:  b.Size(),
		Policy:    b.policy.String(),
		Lost:      b.Lost(),
		Delivered: b.delivered.Load(),
	}
	for _, l := range b.lanes {
		st.Pending += l.Len()
	}
	_ = b.sem.Acquire(context.Background(), 1)
	st.Deferred = b.deferred.Len()
	b.sem.Release(1)
	return st
}

// ScheduleAfterDrain runs fn once every event committed before the call has
// been consumed or discarded.
//
// fn runs on whichever goroutine retires the last such event: a reader, a
// Reset or Resize, or this call itself when the buffer is already empty.
// It never runs with the consumer-side lock held. Callbacks still pending
// when the buffer is closed are dropped.
func (b *Buffer) ScheduleAfterDrain(fn func()) error {
	if b.closed.Load() {
		return ErrClosed
	}
	_ = b.sem.Acquire(context.Background(), 1)
	if b.closed.Load() {
		b.sem.Release(1)
		return ErrClosed
	}
	b.deferred.add(b.clock.Now(), fn)

	var fired []func()
	if b.cached == 0 && b.emptyFast() {
		_, bound := b.advance()
		fired = b.deferred.due(bound)
	}
	b.sem.Release(1)
	runAll(fired)
	return nil
}

// Reset discards every pending event, zeroes the loss counters and fires
// every pending drain callback.
func (b *Buffer) Reset() error {
	if b.closed.Load() {
		return ErrClosed
	}
	_ = b.sem.Acquire(context.Background(), 1)
	discarded := b.pending()
	fired := b.clearLocked(nil)
	b.sem.Release(1)
	runAll(fired)

	b.logger.Info("trace buffer reset",
		"discarded", discarded,
		"callbacks", len(fired))
	return nil
}

// Resize replaces every lane with empty storage of size bytes. Pending
// events are discarded and pending drain callbacks fire, as with Reset.
//
// All new storage is allocated before anything changes. If any allocation
// fails Resize returns an *AllocError and the buffer keeps its previous
// size and content.
func (b *Buffer) Resize(size int) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if size < lane.MinCapacity {
		return fmt.Errorf("%w: lane size must be at least %d bytes, got %d", ErrInvalidConfig, lane.MinCapacity, size)
	}

	bufs := make([][]byte, len(b.lanes))
	for i := range bufs {
		buf, err := b.alloc(size)
		if err != nil {
			b.logger.Warn("trace buffer resize failed", "lane", i, "size", size, "error", err)
			return &AllocError{Size: size, Lane: i, Err: err}
		}
		bufs[i] = buf
	}

	_ = b.sem.Acquire(context.Background(), 1)
	if b.closed.Load() {
		b.sem.Release(1)
		return ErrClosed
	}
	old := b.Size()
	discarded := b.pending()
	fired := b.clearLocked(bufs)
	b.laneSize.Store(int64(size))
	b.sem.Release(1)
	runAll(fired)

	b.logger.Info("trace buffer resized",
		"from", old,
		"to", size,
		"discarded", discarded,
		"callbacks", len(fired))
	return nil
}

// clearLocked empties every lane, replacing its storage when bufs is set.
// The bound is taken before the barrier so that anything left after the
// clear was stamped after it. Every pending callback is returned.
func (b *Buffer) clearLocked(bufs [][]byte) []func() {
	t := b.clock.Now()
	b.barrier.Wait()
	for i, l := range b.lanes {
		if bufs != nil {
			l.Replace(bufs[i])
		} else {
			l.Reset()
		}
	}
	b.resetSlots(t)
	b.delivered.Store(0)
	return b.deferred.drain()
}

// pending counts events not yet delivered.
func (b *Buffer) pending() int {
	n := 0
	for _, l := range b.lanes {
		n += l.Len()
	}
	return n
}
