package tracebuf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/lanetrace/internal/clock"
	"github.com/roach88/lanetrace/internal/lane"
	"github.com/roach88/lanetrace/internal/quiesce"
)

// Config describes a buffer.
type Config struct {
	// Lanes is the number of writer lanes, normally one per core.
	Lanes int
	// LaneSize is the capacity of each lane in bytes.
	LaneSize int
	// Policy decides what a full lane does with new records.
	Policy lane.Policy
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Lanes < 1 {
		return fmt.Errorf("%w: lanes must be at least 1, got %d", ErrInvalidConfig, c.Lanes)
	}
	if c.LaneSize < lane.MinCapacity {
		return fmt.Errorf("%w: lane size must be at least %d bytes, got %d", ErrInvalidConfig, lane.MinCapacity, c.LaneSize)
	}
	if c.Policy != lane.DropNewest && c.Policy != lane.OverwriteOldest {
		return fmt.Errorf("%w: unknown policy %d", ErrInvalidConfig, c.Policy)
	}
	return nil
}

// Event is a delivered trace event.
type Event struct {
	Lane      int
	Timestamp clock.Timestamp
	Payload   []byte
}

// Allocator returns zeroed storage for one lane.
type Allocator func(size int) ([]byte, error)

// barrier waits until every write in flight when it was called is visible.
type barrier interface {
	Wait()
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock sets the timestamp source shared by writers and the reader.
func WithClock(c *clock.Clock) Option {
	return func(b *Buffer) {
		b.clock = c
	}
}

// WithLogger sets the logger for administrative operations.
func WithLogger(l *slog.Logger) Option {
	return func(b *Buffer) {
		b.logger = l
	}
}

// WithAllocator sets the allocator Resize uses for new lane storage.
func WithAllocator(a Allocator) Option {
	return func(b *Buffer) {
		b.alloc = a
	}
}

// Buffer is a multi-lane trace buffer.
//
// Writers call Write or Reserve from any goroutine; each lane serializes its
// own writers. Readers are serialized by a consumer-side lock and see every
// event, across lanes, in commit timestamp order.
type Buffer struct {
	lanes   []*lane.Lane
	policy  lane.Policy
	clock   *clock.Clock
	logger  *slog.Logger
	alloc   Allocator
	barrier barrier

	// sem is the consumer-side lock. A weighted semaphore of one lets
	// blocked acquirers give up when their context is cancelled.
	sem      *semaphore.Weighted
	index    *orderedIndex
	cached   int
	deferred deferredQueue

	signal    chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	laneSize  atomic.Int64
	delivered atomic.Uint64
}

// New creates a buffer with cfg.Lanes empty lanes of cfg.LaneSize bytes.
func New(cfg Config, opts ...Option) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Buffer{
		policy: cfg.Policy,
		sem:    semaphore.NewWeighted(1),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		alloc:  lane.Allocate,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.clock == nil {
		b.clock = clock.New(nil)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	gates := make([]*quiesce.Gate, cfg.Lanes)
	b.lanes = make([]*lane.Lane, cfg.Lanes)
	for i := range b.lanes {
		l, err := lane.New(lane.Config{
			ID:       i,
			Capacity: cfg.LaneSize,
			Policy:   cfg.Policy,
			Stamp:    b.clock.Now,
			OnCommit: b.wake,
		})
		if err != nil {
			return nil, &AllocError{Size: cfg.LaneSize, Lane: i, Err: err}
		}
		b.lanes[i] = l
		gates[i] = l.Gate()
	}
	b.barrier = quiesce.NewGroup(gates...)
	b.laneSize.Store(int64(cfg.LaneSize))
	b.index = newOrderedIndex(cfg.Lanes, b.clock.Now())

	b.logger.Debug("trace buffer created",
		"lanes", cfg.Lanes,
		"lane_size", cfg.LaneSize,
		"policy", cfg.Policy.String())
	return b, nil
}

// Lanes returns the number of lanes.
func (b *Buffer) Lanes() int {
	return len(b.lanes)
}

// Size returns the current per-lane capacity in bytes.
func (b *Buffer) Size() int {
	return int(b.laneSize.Load())
}

// Policy returns the overflow policy of every lane.
func (b *Buffer) Policy() lane.Policy {
	return b.policy
}

// Now returns a fresh timestamp from the buffer's clock.
func (b *Buffer) Now() clock.Timestamp {
	return b.clock.Now()
}

// Lost returns the number of events dropped or evicted across all lanes
// since the last Reset or Resize.
func (b *Buffer) Lost() uint64 {
	var n uint64
	for _, l := range b.lanes {
		n += l.Lost()
	}
	return n
}

// Reserve claims space for an event with a size-byte payload on lane id.
//
// Other writers on the lane wait until the reservation is committed or
// aborted, so a goroutine must not write to a lane it holds a reservation
// on. Readers never take the lane's writer lock, but a sweep that needs an
// empty bound for the lane, and Reset or Resize, wait at the barrier for the
// commit. A record that does not fit is counted as lost and reported as
// ErrDropped.
func (b *Buffer) Reserve(id, size int) (*lane.Reservation, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if id < 0 || id >= len(b.lanes) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoLane, id, len(b.lanes))
	}
	r, err := b.lanes[id].Reserve(size)
	if err != nil {
		if errors.Is(err, lane.ErrFull) || errors.Is(err, lane.ErrTooLarge) {
			return nil, fmt.Errorf("%w: lane %d: %w", ErrDropped, id, err)
		}
		return nil, err
	}
	return r, nil
}

// Write appends payload to lane id and returns its commit timestamp.
func (b *Buffer) Write(id int, payload []byte) (clock.Timestamp, error) {
	r, err := b.Reserve(id, len(payload))
	if err != nil {
		return 0, err
	}
	copy(r.Bytes(), payload)
	return r.Commit(), nil
}

// Close releases the buffer. Pending events and drain callbacks are
// discarded; blocked readers return ErrClosed. Close is idempotent.
func (b *Buffer) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.done)

	// Acquire with a background context never fails.
	_ = b.sem.Acquire(context.Background(), 1)
	for _, l := range b.lanes {
		l.Reset()
	}
	dropped := b.deferred.discard()
	b.sem.Release(1)

	b.logger.Debug("trace buffer closed", "dropped_callbacks", dropped)
	return nil
}

// wake notifies a blocked reader. The signal channel holds at most one
// token; extra notifications are coalesced.
func (b *Buffer) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// emptyFast reports whether every lane looks empty without locking.
func (b *Buffer) emptyFast() bool {
	for _, l := range b.lanes {
		if !l.EmptyFast() {
			return false
		}
	}
	return true
}
