package testutil

import (
	"sync"
	"sync/atomic"
)

// StepSource is a deterministic clock.Source for tests.
//
// Each Nanotime call returns the previous reading plus Step. With a Step of
// 0 every reading collides, which exercises the clock's correction path.
//
// Thread-safety: all methods are safe for concurrent use.
type StepSource struct {
	mu   sync.Mutex
	now  int64
	Step int64
}

// NewStepSource creates a source starting at start that advances by step
// on every reading.
func NewStepSource(start, step int64) *StepSource {
	return &StepSource{now: start, Step: step}
}

// Nanotime implements clock.Source.
func (s *StepSource) Nanotime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += s.Step
	return s.now
}

// Set moves the source to v. Used to simulate a source that jumps backwards.
func (s *StepSource) Set(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = v
}

// FrozenSource always returns the same reading.
type FrozenSource struct {
	v atomic.Int64
}

// NewFrozenSource creates a source stuck at v.
func NewFrozenSource(v int64) *FrozenSource {
	s := &FrozenSource{}
	s.v.Store(v)
	return s
}

// Nanotime implements clock.Source.
func (s *FrozenSource) Nanotime() int64 {
	return s.v.Load()
}
