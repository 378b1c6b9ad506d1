// Package lane implements the per-core storage of a trace buffer: a bounded
// byte queue written by one writer context and drained by one reader.
//
// Records are stored in a byte ring as a fixed header (timestamp, payload
// length) followed by the payload; a record may wrap around the end of the
// ring. Writers use a reservation protocol:
//
//	r, err := l.Reserve(len(payload))
//	if err != nil {
//	    return err // dropped and counted
//	}
//	copy(r.Bytes(), payload)
//	ts := r.Commit()
//
// Writers on one lane are serialized by a writer lock held from Reserve to
// Commit. The ring itself is guarded by a separate lock that writers take
// only briefly, so a slow writer never blocks Peek or Reset. The timestamp
// is taken at commit time under the ring lock, so records in one lane are
// always in timestamp order. Each write is bracketed by the lane's
// quiesce.Gate so a reader can wait for in-flight writes to settle.
//
// Readers use Peek/Consume. Peek detaches the oldest record from the ring
// and keeps it aside until Consume drops it; repeated Peeks return the same
// record. A detached record no longer occupies ring capacity and cannot be
// evicted by an overwriting writer.
package lane

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/lanetrace/internal/clock"
	"github.com/roach88/lanetrace/internal/quiesce"
)

// HeaderSize is the per-record overhead in bytes: an 8-byte timestamp and a
// 4-byte payload length.
const HeaderSize = 12

// MinCapacity is the smallest usable lane capacity (one empty record).
const MinCapacity = HeaderSize

var (
	// ErrFull is returned by Reserve under DropNewest when the record does
	// not fit. The record is counted as lost.
	ErrFull = errors.New("lane full")

	// ErrTooLarge is returned when a record can never fit in the lane. The
	// record is counted as lost.
	ErrTooLarge = errors.New("record larger than lane capacity")

	// ErrInvalidCapacity is returned for capacities below MinCapacity.
	ErrInvalidCapacity = errors.New("invalid lane capacity")

	// ErrAlloc is returned by Allocate when the runtime refuses the request.
	ErrAlloc = errors.New("lane storage allocation failed")
)

// RecordSize returns the ring bytes used by a record with an n-byte payload.
func RecordSize(n int) int {
	return HeaderSize + n
}

// Record is a committed event as seen by the reader. Payload is owned by the
// caller once returned.
type Record struct {
	Timestamp clock.Timestamp
	Payload   []byte
}

// Config describes a lane.
type Config struct {
	// ID identifies the lane within its buffer.
	ID int
	// Capacity is the ring size in bytes.
	Capacity int
	// Policy decides what happens when a record does not fit.
	Policy Policy
	// Stamp issues commit timestamps. Required.
	Stamp func() clock.Timestamp
	// OnCommit, if set, is called after every successful commit, outside
	// the lane lock.
	OnCommit func()
}

// Lane is a bounded single-writer byte queue.
//
// Thread-safety: all methods are safe for concurrent use. Writers on one
// lane are serialized; Reserve holds the writer lock until Commit or Abort,
// so a goroutine must not reserve on a lane it already holds.
type Lane struct {
	id       int
	policy   Policy
	stamp    func() clock.Timestamp
	onCommit func()
	gate     quiesce.Gate

	wmu sync.Mutex // serializes writers; guards res
	res Reservation

	mu     sync.Mutex // guards the ring
	buf    []byte
	head   int // offset of the oldest record
	used   int // bytes occupied by records
	count  int // records in the ring
	peeked *Record

	pending atomic.Int64 // records in the ring plus a detached one
	lost    atomic.Uint64
}

// New creates a lane with freshly allocated storage.
func New(cfg Config) (*Lane, error) {
	if cfg.Stamp == nil {
		return nil, errors.New("lane: stamp function is required")
	}
	buf, err := Allocate(cfg.Capacity)
	if err != nil {
		return nil, err
	}
	l := &Lane{
		id:       cfg.ID,
		policy:   cfg.Policy,
		stamp:    cfg.Stamp,
		onCommit: cfg.OnCommit,
		buf:      buf,
	}
	l.res.lane = l
	return l, nil
}

// Allocate returns zeroed storage for a lane of the given capacity.
//
// Requests the runtime cannot satisfy are reported as ErrAlloc instead of
// panicking, so a resize can fail without disturbing the existing storage.
func Allocate(capacity int) (buf []byte, err error) {
	if capacity < MinCapacity {
		return nil, fmt.Errorf("%w: %d < %d", ErrInvalidCapacity, capacity, MinCapacity)
	}
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = fmt.Errorf("%w: %d bytes: %v", ErrAlloc, capacity, r)
		}
	}()
	return make([]byte, capacity), nil
}

// ID returns the lane identifier.
func (l *Lane) ID() int { return l.id }

// Policy returns the overflow policy.
func (l *Lane) Policy() Policy { return l.policy }

// Gate returns the gate bracketing this lane's writes.
func (l *Lane) Gate() *quiesce.Gate { return &l.gate }

// Capacity returns the ring size in bytes.
func (l *Lane) Capacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// Len returns the number of records not yet consumed, including a detached
// one.
func (l *Lane) Len() int {
	return int(l.pending.Load())
}

// EmptyFast reports whether the lane holds nothing. It takes no lock and may
// be stale by the time it returns.
func (l *Lane) EmptyFast() bool {
	return l.pending.Load() == 0
}

// Lost returns the number of records dropped or evicted since the last
// reset.
func (l *Lane) Lost() uint64 {
	return l.lost.Load()
}

// Reserve claims space for a record with a size-byte payload.
//
// On success the lane's writer lock stays held until the returned
// reservation is committed or aborted; the reservation must not be retained
// afterwards. The ring lock is not held in between, so readers and Reset
// proceed while the payload is filled. Under DropNewest a record that does
// not fit fails with ErrFull. Under OverwriteOldest the oldest records are
// evicted until it fits. Either way the loss is counted.
func (l *Lane) Reserve(size int) (*Reservation, error) {
	if size < 0 {
		return nil, fmt.Errorf("lane %d: negative record size %d", l.id, size)
	}
	need := RecordSize(size)

	l.wmu.Lock()
	l.mu.Lock()
	err := l.makeRoomLocked(need)
	l.mu.Unlock()
	if err != nil {
		l.wmu.Unlock()
		l.lost.Add(1)
		return nil, err
	}

	l.gate.Enter()
	if cap(l.res.scratch) < size {
		l.res.scratch = make([]byte, size)
	}
	l.res.data = l.res.scratch[:size]
	l.res.live = true
	return &l.res, nil
}

// makeRoomLocked ensures need bytes are free in the ring, evicting under
// OverwriteOldest. Only the writer holding wmu adds records, so room made
// here stays free until its commit unless the storage is replaced.
func (l *Lane) makeRoomLocked(need int) error {
	if need > len(l.buf) {
		return ErrTooLarge
	}
	for l.used+need > len(l.buf) {
		if l.policy == DropNewest {
			return ErrFull
		}
		l.evictLocked()
	}
	return nil
}

// Peek returns the oldest unconsumed record without consuming it.
func (l *Lane) Peek() (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.peeked != nil {
		return *l.peeked, true
	}
	if l.count == 0 {
		return Record{}, false
	}
	rec := l.popLocked()
	l.peeked = &rec
	return rec, true
}

// Consume drops the record returned by the last Peek. It is a no-op if
// nothing was peeked.
func (l *Lane) Consume() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.peeked != nil {
		l.peeked = nil
		l.pending.Add(-1)
	}
}

// Reset discards every record and zeroes the lost counter.
func (l *Lane) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearLocked()
	l.lost.Store(0)
}

// Replace swaps in new storage, discarding every record and zeroing the
// lost counter. buf must come from Allocate.
func (l *Lane) Replace(buf []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = buf
	l.clearLocked()
	l.lost.Store(0)
}

func (l *Lane) clearLocked() {
	l.head = 0
	l.used = 0
	l.count = 0
	l.peeked = nil
	l.pending.Store(0)
}

// popLocked removes the oldest record from the ring and returns a copy.
func (l *Lane) popLocked() Record {
	var hdr [HeaderSize]byte
	off := l.readAt(l.head, hdr[:])
	ts := clock.Timestamp(binary.LittleEndian.Uint64(hdr[0:8]))
	n := int(binary.LittleEndian.Uint32(hdr[8:12]))

	payload := make([]byte, n)
	l.readAt(off, payload)
	l.dropHeadLocked(RecordSize(n))

	return Record{Timestamp: ts, Payload: payload}
}

// evictLocked drops the oldest record in the ring and counts it as lost.
func (l *Lane) evictLocked() {
	var hdr [HeaderSize]byte
	l.readAt(l.head, hdr[:])
	n := int(binary.LittleEndian.Uint32(hdr[8:12]))
	l.dropHeadLocked(RecordSize(n))
	l.pending.Add(-1)
	l.lost.Add(1)
}

func (l *Lane) dropHeadLocked(size int) {
	l.used -= size
	l.count--
	if l.count == 0 {
		l.head = 0
		l.used = 0
		return
	}
	l.head = (l.head + size) % len(l.buf)
}

// putLocked appends a record. The caller has made room for it.
func (l *Lane) putLocked(ts clock.Timestamp, payload []byte) {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(ts))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(payload)))

	off := (l.head + l.used) % len(l.buf)
	off = l.writeAt(off, hdr[:])
	l.writeAt(off, payload)

	l.used += RecordSize(len(payload))
	l.count++
}

// writeAt copies p into the ring at off, wrapping at the end, and returns
// the offset just past it.
func (l *Lane) writeAt(off int, p []byte) int {
	n := copy(l.buf[off:], p)
	if n < len(p) {
		copy(l.buf, p[n:])
	}
	return (off + len(p)) % len(l.buf)
}

// readAt fills p from the ring at off, wrapping at the end, and returns the
// offset just past it.
func (l *Lane) readAt(off int, p []byte) int {
	n := copy(p, l.buf[off:])
	if n < len(p) {
		copy(p[n:], l.buf)
	}
	return (off + len(p)) % len(l.buf)
}

// Reservation is space claimed by Reserve. It is only valid until Commit or
// Abort.
type Reservation struct {
	lane    *Lane
	data    []byte
	scratch []byte
	live    bool
}

// Bytes returns the payload area to fill before committing.
func (r *Reservation) Bytes() []byte {
	return r.data
}

// Lane returns the identifier of the lane the space was reserved on.
func (r *Reservation) Lane() int {
	return r.lane.id
}

// Commit stamps the record, publishes it and releases the lane. It returns
// the record's timestamp.
//
// If the lane storage was replaced by a smaller one while the reservation
// was open and the record no longer fits, it is counted as lost instead of
// published.
func (r *Reservation) Commit() clock.Timestamp {
	l := r.lane
	if !r.live {
		panic("lane: commit of a finished reservation")
	}

	l.mu.Lock()
	ts := l.stamp()
	published := l.makeRoomLocked(RecordSize(len(r.data))) == nil
	if published {
		l.putLocked(ts, r.data)
		l.pending.Add(1)
	}
	l.mu.Unlock()

	r.live = false
	r.data = nil
	l.gate.Exit()
	l.wmu.Unlock()

	if !published {
		l.lost.Add(1)
		return ts
	}
	if l.onCommit != nil {
		l.onCommit()
	}
	return ts
}

// Abort releases the lane without publishing anything.
func (r *Reservation) Abort() {
	l := r.lane
	if !r.live {
		panic("lane: abort of a finished reservation")
	}
	r.live = false
	r.data = nil
	l.gate.Exit()
	l.wmu.Unlock()
}
