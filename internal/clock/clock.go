// Package clock provides the timestamp source shared by every lane of a
// trace buffer.
//
// Raw readings from a monotonic source are not enough for cross-lane
// ordering: two writers on different lanes may read the same value, and
// the merge engine needs a total order. Clock corrects each raw reading so
// that the values it issues are strictly increasing in the order Now calls
// complete, regardless of which goroutine calls it.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is a corrected reading in nanoseconds since the source's epoch.
type Timestamp int64

// String renders the timestamp as seconds.microseconds, the way trace
// lines print it.
func (t Timestamp) String() string {
	sec := int64(t) / int64(time.Second)
	usec := (int64(t) % int64(time.Second)) / int64(time.Microsecond)
	return fmt.Sprintf("%d.%06d", sec, usec)
}

// Source reads raw nanoseconds. Readings must never go backwards on a
// single goroutine but may collide or be skewed across goroutines.
type Source interface {
	Nanotime() int64
}

// MonotonicSource reads the Go runtime's monotonic clock relative to the
// moment it was created, offset by a base reading.
type MonotonicSource struct {
	epoch time.Time
	base  int64
}

// NewMonotonicSource creates a source that reads zero now.
func NewMonotonicSource() *MonotonicSource {
	return NewMonotonicSourceAt(0)
}

// NewMonotonicSourceAt creates a source that reads base now. A trace that
// continues an earlier one starts its source past the earlier last
// timestamp so the two never interleave.
func NewMonotonicSourceAt(base Timestamp) *MonotonicSource {
	return &MonotonicSource{epoch: time.Now(), base: int64(base)}
}

// Nanotime implements Source.
func (s *MonotonicSource) Nanotime() int64 {
	return s.base + int64(time.Since(s.epoch))
}

// Clock issues strictly increasing timestamps.
//
// Thread-safety: Now is safe for concurrent use. The correction step is
// serialized by a small mutex, the only point writers on different lanes
// share.
type Clock struct {
	src Source

	mu   sync.Mutex
	last Timestamp
}

// New creates a clock over src. A nil src uses a fresh MonotonicSource.
func New(src Source) *Clock {
	if src == nil {
		src = NewMonotonicSource()
	}
	return &Clock{src: src}
}

// Now reads the source and corrects the reading: if it is not strictly
// greater than the last issued value it becomes last+1.
func (c *Clock) Now() Timestamp {
	ts := Timestamp(c.src.Nanotime())

	c.mu.Lock()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	c.mu.Unlock()

	return ts
}

// Last returns the most recently issued timestamp without issuing a new one.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
