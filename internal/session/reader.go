package session

import (
	"context"
	"errors"
	"io"

	"github.com/roach88/lanetrace/internal/tracebuf"
)

// Reader reads the events of a single session.
//
// A Reader binds to the session of the first event it reads. It returns
// io.EOF when the next event belongs to a later session, leaving that event
// in the buffer, or when its session has ended and every event it owns has
// been read.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	tr   *Tracker
	buf  *tracebuf.Buffer
	sess *Session
	eof  bool
}

// NewReader creates a reader on t's buffer.
func (t *Tracker) NewReader() *Reader {
	return &Reader{tr: t, buf: t.buf}
}

// Session returns the bound session, or nil before the first event.
func (r *Reader) Session() *Session {
	return r.sess
}

// Next returns the next event of the reader's session, blocking while the
// session is open and no event is available.
func (r *Reader) Next(ctx context.Context) (tracebuf.Event, error) {
	if r.eof {
		return tracebuf.Event{}, io.EOF
	}
	for {
		ev, err := r.next(ctx)
		if errors.Is(err, io.EOF) {
			r.eof = true
		}
		if !errors.Is(err, errSessionEnded) {
			return ev, err
		}
	}
}

// errSessionEnded reports that a wait was cut short by the end of the bound
// session; the read is retried without waiting.
var errSessionEnded = errors.New("session ended")

func (r *Reader) next(ctx context.Context) (tracebuf.Event, error) {
	wait := r.sess == nil || !r.sess.Ended()

	readCtx := ctx
	if wait && r.sess != nil {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-r.sess.Done():
				cancel()
			case <-readCtx.Done():
			}
		}()
	}

	ev, consumed, err := r.buf.ReadFunc(readCtx, wait, r.accept)
	switch {
	case err == nil && consumed:
		return ev, nil
	case err == nil:
		return tracebuf.Event{}, io.EOF
	case errors.Is(err, tracebuf.ErrEmpty):
		return tracebuf.Event{}, io.EOF
	case errors.Is(err, tracebuf.ErrInterrupted) && ctx.Err() == nil:
		return tracebuf.Event{}, errSessionEnded
	default:
		return tracebuf.Event{}, err
	}
}

// accept binds the reader on its first event and rejects events of other
// sessions.
func (r *Reader) accept(ev tracebuf.Event) bool {
	s := r.tr.Of(ev.Timestamp)
	if r.sess == nil {
		r.sess = s
	}
	return s == r.sess
}
