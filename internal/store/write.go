package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/lanetrace/internal/clock"
)

// Event is one recorded trace event.
type Event struct {
	Seq       int64           `json:"seq"`
	Lane      int             `json:"lane"`
	Timestamp clock.Timestamp `json:"ts"`
	SessionID string          `json:"session"`
	Payload   []byte          `json:"payload"`
}

// Session is a recorded trace session.
type Session struct {
	ID    string          `json:"id"`
	Start clock.Timestamp `json:"start"`
	End   clock.Timestamp `json:"end"`
}

// Snapshot is a point-in-time copy of the buffer counters.
type Snapshot struct {
	Seq       int64     `json:"seq"`
	TakenAt   time.Time `json:"taken_at"`
	Lanes     int       `json:"lanes"`
	LaneSize  int       `json:"lane_size"`
	Policy    string    `json:"policy"`
	Delivered uint64    `json:"delivered"`
	Lost      uint64    `json:"lost"`
}

// AppendEvents inserts a batch of events in one transaction, in slice
// order. Seq fields are ignored and assigned by the database.
//
// Either every event of the batch is stored or none is.
func (s *Store) AppendEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (lane, ts, session_id, payload)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("append events: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		payload := ev.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, ev.Lane, int64(ev.Timestamp), ev.SessionID, payload); err != nil {
			return fmt.Errorf("append events: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append events: commit: %w", err)
	}
	return nil
}

// WriteSession records an ended session.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, start_ts, end_ts)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sess.ID, int64(sess.Start), int64(sess.End))
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// WriteSnapshot records a counters snapshot and returns its seq.
func (s *Store) WriteSnapshot(ctx context.Context, snap Snapshot) (int64, error) {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (taken_at, lanes, lane_size, policy, delivered, lost)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		snap.TakenAt.UTC().Format(time.RFC3339Nano),
		snap.Lanes,
		snap.LaneSize,
		snap.Policy,
		int64(snap.Delivered),
		int64(snap.Lost),
	)
	if err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	return seq, nil
}
