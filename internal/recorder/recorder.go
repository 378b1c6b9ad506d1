// Package recorder drains a trace buffer into a store.
//
// The recorder is the buffer's single consumer. It blocks on Read, batches
// whatever else is immediately available, and appends each batch to the
// store in one transaction. Events are tagged with the session that owns
// them while they are still at the front of the buffer, before a drained
// session can be released.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/lanetrace/internal/session"
	"github.com/roach88/lanetrace/internal/store"
	"github.com/roach88/lanetrace/internal/tracebuf"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 256

// Options configures a Recorder.
type Options struct {
	// BatchSize caps the events appended per transaction.
	BatchSize int
	// Logger receives progress and errors. Defaults to slog.Default().
	Logger *slog.Logger
}

// Recorder copies events from a buffer into a store.
type Recorder struct {
	buf       *tracebuf.Buffer
	st        *store.Store
	tr        *session.Tracker
	batchSize int
	logger    *slog.Logger

	delivered uint64
	batches   uint64
}

// New creates a recorder. Sessions ended on tr are written to st as they
// end.
func New(buf *tracebuf.Buffer, st *store.Store, tr *session.Tracker, opts Options) *Recorder {
	r := &Recorder{
		buf:       buf,
		st:        st,
		tr:        tr,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	tr.OnEnd(func(s *session.Session) {
		end, _ := s.End()
		err := st.WriteSession(context.Background(), store.Session{ID: s.ID, Start: s.Start, End: end})
		if err != nil {
			r.logger.Error("session not recorded", "session", s.ID, "error", err)
		}
	})
	return r
}

// Delivered returns the number of events written to the store.
//
// Not safe to call concurrently with Run.
func (r *Recorder) Delivered() uint64 {
	return r.delivered
}

// Run records events until ctx is cancelled or the buffer is closed.
//
// On cancellation Run drains whatever is left in the buffer without
// waiting, then writes a counters snapshot. It returns nil after a clean
// shutdown and the first store error otherwise.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Info("recorder starting", "batch_size", r.batchSize)

	batch := make([]store.Event, 0, r.batchSize)
	for {
		ev, ok, err := r.read(ctx, true)
		switch {
		case err == nil:
		case errors.Is(err, tracebuf.ErrInterrupted) && ctx.Err() != nil:
			return r.shutdown(context.WithoutCancel(ctx))
		case errors.Is(err, tracebuf.ErrClosed):
			r.logger.Info("recorder stopping: buffer closed", "delivered", r.delivered)
			return nil
		default:
			return fmt.Errorf("recorder: read: %w", err)
		}
		if !ok {
			continue
		}

		batch = append(batch[:0], ev)
		batch = r.fill(batch)
		if err := r.flush(ctx, batch); err != nil {
			if ctx.Err() != nil {
				// The batch was rolled back; store it before draining the rest.
				if err := r.flush(context.WithoutCancel(ctx), batch); err != nil {
					return err
				}
				return r.shutdown(context.WithoutCancel(ctx))
			}
			return err
		}
	}
}

// read takes the oldest event and tags it with its session.
func (r *Recorder) read(ctx context.Context, wait bool) (store.Event, bool, error) {
	var sid string
	ev, consumed, err := r.buf.ReadFunc(ctx, wait, func(ev tracebuf.Event) bool {
		sid = r.tr.Of(ev.Timestamp).ID
		return true
	})
	if err != nil {
		if errors.Is(err, tracebuf.ErrEmpty) {
			return store.Event{}, false, nil
		}
		return store.Event{}, false, err
	}
	if !consumed {
		return store.Event{}, false, nil
	}
	return store.Event{
		Lane:      ev.Lane,
		Timestamp: ev.Timestamp,
		SessionID: sid,
		Payload:   ev.Payload,
	}, true, nil
}

// fill appends immediately available events until the batch is full.
func (r *Recorder) fill(batch []store.Event) []store.Event {
	for len(batch) < r.batchSize {
		ev, ok, err := r.read(context.Background(), false)
		if err != nil || !ok {
			break
		}
		batch = append(batch, ev)
	}
	return batch
}

func (r *Recorder) flush(ctx context.Context, batch []store.Event) error {
	if len(batch) == 0 {
		return nil
	}
	if err := r.st.AppendEvents(ctx, batch); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	r.delivered += uint64(len(batch))
	r.batches++
	r.logger.Debug("batch recorded", "events", len(batch), "delivered", r.delivered)
	return nil
}

// shutdown drains the buffer without waiting and records a snapshot.
func (r *Recorder) shutdown(ctx context.Context) error {
	batch := make([]store.Event, 0, r.batchSize)
	for {
		batch = r.fill(batch[:0])
		if len(batch) == 0 {
			break
		}
		if err := r.flush(ctx, batch); err != nil {
			return err
		}
	}

	if _, err := r.Snapshot(ctx); err != nil {
		return err
	}
	r.logger.Info("recorder stopped",
		"delivered", r.delivered,
		"batches", r.batches,
		"lost", r.buf.Lost())
	return nil
}

// Snapshot writes the buffer counters to the store.
func (r *Recorder) Snapshot(ctx context.Context) (store.Snapshot, error) {
	st := r.buf.Stats()
	snap := store.Snapshot{
		TakenAt:   time.Now(),
		Lanes:     st.Lanes,
		LaneSize:  st.LaneSize,
		Policy:    st.Policy,
		Delivered: r.delivered,
		Lost:      st.Lost,
	}
	seq, err := r.st.WriteSnapshot(ctx, snap)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("recorder: %w", err)
	}
	snap.Seq = seq
	return snap, nil
}
