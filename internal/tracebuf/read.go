package tracebuf

import (
	"context"
)

// Read returns the globally oldest event, blocking until one is committed.
//
// Read returns ErrInterrupted, wrapping the context's error, when ctx is
// cancelled first; nothing is consumed in that case. It returns ErrClosed
// once the buffer is closed.
func (b *Buffer) Read(ctx context.Context) (Event, error) {
	ev, _, err := b.ReadFunc(ctx, true, nil)
	return ev, err
}

// TryRead returns the globally oldest event if there is one. It does not
// block beyond the time needed to settle in-flight writes.
func (b *Buffer) TryRead() (Event, bool) {
	ev, _, err := b.ReadFunc(context.Background(), false, nil)
	if err != nil {
		return Event{}, false
	}
	return ev, true
}

// Peek returns the globally oldest event without consuming it.
func (b *Buffer) Peek(ctx context.Context, wait bool) (Event, error) {
	ev, _, err := b.ReadFunc(ctx, wait, func(Event) bool { return false })
	return ev, err
}

// ReadFunc finds the globally oldest event, waiting for one if wait is set,
// and hands it to accept. The event is consumed only if accept returns true;
// otherwise it stays at the front and the next read returns it again. A nil
// accept consumes every event.
//
// accept runs with the consumer-side lock held and must not call back into
// the buffer's read side. The returned bool reports whether the event was
// consumed. When no event is available and wait is false, ReadFunc returns
// ErrEmpty.
func (b *Buffer) ReadFunc(ctx context.Context, wait bool, accept func(Event) bool) (Event, bool, error) {
	for {
		if b.closed.Load() {
			return Event{}, false, ErrClosed
		}
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return Event{}, false, interrupted(err)
		}
		if b.closed.Load() {
			b.sem.Release(1)
			return Event{}, false, ErrClosed
		}
		ev, found, consumed, fired := b.readLocked(accept)
		more := found && (b.cached > 0 || !b.emptyFast())
		b.sem.Release(1)
		runAll(fired)

		if found {
			// Another reader may be waiting on the token this read used.
			if more {
				b.wake()
			}
			return ev, consumed, nil
		}
		if !wait {
			return Event{}, false, ErrEmpty
		}

		select {
		case <-b.signal:
		case <-ctx.Done():
			return Event{}, false, interrupted(ctx.Err())
		case <-b.done:
			return Event{}, false, ErrClosed
		}
	}
}

// Poll settles the front of the index, runs any drain callbacks that became
// due, and reports whether an event is ready. It consumes nothing.
func (b *Buffer) Poll() (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	_ = b.sem.Acquire(context.Background(), 1)
	id, bound := b.advance()
	fired := b.deferred.due(bound)
	b.sem.Release(1)
	runAll(fired)
	return id >= 0, nil
}

// readLocked runs one merge step. Callbacks that became due are returned
// for the caller to run after releasing the lock.
func (b *Buffer) readLocked(accept func(Event) bool) (ev Event, found, consumed bool, fired []func()) {
	id, bound := b.advance()
	fired = b.deferred.due(bound)
	if id < 0 {
		return Event{}, false, false, fired
	}

	s := b.index.slot(id)
	ev = Event{Lane: id, Timestamp: s.ts, Payload: s.rec.Payload}
	if accept != nil && !accept(ev) {
		return ev, true, false, fired
	}
	b.consume(s)

	if b.deferred.Len() > 0 {
		_, bound = b.advance()
		fired = append(fired, b.deferred.due(bound)...)
	}
	return ev, true, true, fired
}
