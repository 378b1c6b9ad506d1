// Package session partitions a trace into sessions by timestamp.
//
// There is always exactly one open session. Ending it stamps its end with
// the buffer clock and opens the next one, so every event belongs to the
// first session that is still open or whose end is not before the event's
// timestamp.
//
// Ended sessions are kept until every event they may own has been drained
// from the buffer, then released through Buffer.ScheduleAfterDrain.
//
// With WithMarkers, ending a session also writes a "session_ended" event
// into the trace, so the boundary shows in the recorded stream itself.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/lanetrace/internal/clock"
	"github.com/roach88/lanetrace/internal/tracebuf"
)

// IDGenerator produces session IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Session is one time slice of the trace.
type Session struct {
	// ID is unique per tracker; a UUIDv7 unless the tracker was given
	// another IDGenerator.
	ID string
	// Start is the end of the previous session, or the tracker's creation
	// time for the first one.
	Start clock.Timestamp

	mu    sync.Mutex
	end   clock.Timestamp
	ended bool
	done  chan struct{}
}

func newSession(id string, start clock.Timestamp) *Session {
	return &Session{
		ID:    id,
		Start: start,
		done:  make(chan struct{}),
	}
}

// End returns the session's end timestamp and whether it has ended.
func (s *Session) End() (clock.Timestamp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end, s.ended
}

// Ended reports whether the session has been ended.
func (s *Session) Ended() bool {
	_, ended := s.End()
	return ended
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// owns reports whether an event at ts falls into s, given that every
// session before s ended before ts.
func (s *Session) owns(ts clock.Timestamp) bool {
	end, ended := s.End()
	return !ended || ts <= end
}

func (s *Session) finish(at clock.Timestamp) {
	s.mu.Lock()
	s.end = at
	s.ended = true
	s.mu.Unlock()
	close(s.done)
}

// Info is a snapshot of a session for reporting.
type Info struct {
	ID    string          `json:"id"`
	Start clock.Timestamp `json:"start"`
	End   clock.Timestamp `json:"end,omitempty"`
	Ended bool            `json:"ended"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	end, ended := s.End()
	return Info{ID: s.ID, Start: s.Start, End: end, Ended: ended}
}

// Tracker owns the list of live sessions of one buffer.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	buf *tracebuf.Buffer
	ids IDGenerator

	markers     bool
	markerLane  int
	markersSent atomic.Uint64

	mu       sync.Mutex
	sessions []*Session // ended sessions awaiting drain, then the open one
	onEnd    func(*Session)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithIDGenerator sets the generator for session IDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Tracker) {
		t.ids = g
	}
}

// WithMarkers makes End write a session_ended marker event on lane before
// the session is closed. The marker belongs to the session it ends.
func WithMarkers(lane int) Option {
	return func(t *Tracker) {
		t.markers = true
		t.markerLane = lane
	}
}

// MarkerEnded is the payload of the marker written when a session ends.
const MarkerEnded = "session_ended"

// NewTracker creates a tracker with one open session.
func NewTracker(buf *tracebuf.Buffer, opts ...Option) *Tracker {
	t := &Tracker{buf: buf, ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(t)
	}
	t.sessions = []*Session{newSession(t.ids.Generate(), buf.Now())}
	return t
}

// OnEnd registers fn to be called, outside the tracker lock, every time a
// session ends.
func (t *Tracker) OnEnd(fn func(*Session)) {
	t.mu.Lock()
	t.onEnd = fn
	t.mu.Unlock()
}

// Current returns the open session.
func (t *Tracker) Current() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[len(t.sessions)-1]
}

// End ends the open session and opens a new one. It returns the session
// that was ended.
func (t *Tracker) End() *Session {
	if t.markers {
		t.mark(MarkerEnded)
	}

	t.mu.Lock()
	s := t.sessions[len(t.sessions)-1]
	at := t.buf.Now()
	t.sessions = append(t.sessions, newSession(t.ids.Generate(), at))
	onEnd := t.onEnd
	t.mu.Unlock()

	s.finish(at)
	if onEnd != nil {
		onEnd(s)
	}

	// The callback may run inline when the buffer is already drained.
	if err := t.buf.ScheduleAfterDrain(func() { t.release(s) }); err != nil {
		t.release(s)
	}
	return s
}

// Markers returns the number of marker events committed to the buffer.
func (t *Tracker) Markers() uint64 {
	return t.markersSent.Load()
}

// mark writes a marker event. A marker that does not fit is lost like any
// other event.
func (t *Tracker) mark(payload string) {
	if _, err := t.buf.Write(t.markerLane, []byte(payload)); err != nil {
		slog.Debug("session marker not written", "lane", t.markerLane, "marker", payload, "error", err)
		return
	}
	t.markersSent.Add(1)
}

// Of returns the session owning an event with timestamp ts.
func (t *Tracker) Of(ts clock.Timestamp) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		if s.owns(ts) {
			return s
		}
	}
	// Unreachable: the last session is always open.
	return t.sessions[len(t.sessions)-1]
}

// Live returns snapshots of every session that may still own events, oldest
// first.
func (t *Tracker) Live() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Info, len(t.sessions))
	for i, s := range t.sessions {
		out[i] = s.Info()
	}
	return out
}

func (t *Tracker) release(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.sessions {
		if cur == s {
			t.sessions = append(t.sessions[:i], t.sessions[i+1:]...)
			return
		}
	}
}
