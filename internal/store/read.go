package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/lanetrace/internal/clock"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Filter selects events for ReadEvents. Zero fields do not filter.
type Filter struct {
	// Lane restricts to one lane when set.
	Lane *int
	// SessionID restricts to one session.
	SessionID string
	// AfterSeq skips events with seq <= AfterSeq.
	AfterSeq int64
	// Limit caps the number of events returned.
	Limit int
}

// ReadEvents returns recorded events matching f, ordered by seq.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadEvents(ctx context.Context, f Filter) ([]Event, error) {
	var where []string
	var args []any
	if f.Lane != nil {
		where = append(where, "lane = ?")
		args = append(args, *f.Lane)
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	query := "SELECT seq, lane, ts, session_id, payload FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// CountEvents returns the number of recorded events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// LastTimestamp returns the latest timestamp recorded in the log, across
// events and session ends, or zero for an empty log. A recording that
// appends to the log must issue timestamps above it.
func (s *Store) LastTimestamp(ctx context.Context) (clock.Timestamp, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(m), 0) FROM (
			SELECT MAX(ts) AS m FROM events
			UNION ALL
			SELECT MAX(end_ts) FROM sessions
		)
	`).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("last timestamp: %w", err)
	}
	return clock.Timestamp(ts), nil
}

// ReadSessions returns every recorded session, oldest first.
func (s *Store) ReadSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_ts, end_ts
		FROM sessions
		ORDER BY end_ts ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var start, end int64
		if err := rows.Scan(&sess.ID, &start, &end); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Start = clock.Timestamp(start)
		sess.End = clock.Timestamp(end)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// LatestSnapshot returns the most recent counters snapshot.
// Returns ErrNotFound if none was written.
func (s *Store) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var takenAt string
	var delivered, lost int64
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, taken_at, lanes, lane_size, policy, delivered, lost
		FROM snapshots
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&snap.Seq, &takenAt, &snap.Lanes, &snap.LaneSize, &snap.Policy, &delivered, &lost)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("latest snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}

	snap.TakenAt, err = time.Parse(time.RFC3339Nano, takenAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("latest snapshot: parse taken_at: %w", err)
	}
	snap.Delivered = uint64(delivered)
	snap.Lost = uint64(lost)
	return snap, nil
}

// OrderViolation describes two consecutive recorded events whose
// timestamps decrease.
type OrderViolation struct {
	Prev Event `json:"prev"`
	Next Event `json:"next"`
}

// CheckOrder scans the log in seq order and returns the first pair of
// consecutive events whose timestamps decrease, or nil if the log is
// ordered. It also returns the number of events scanned.
func (s *Store) CheckOrder(ctx context.Context) (*OrderViolation, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, lane, ts, session_id, payload
		FROM events
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, 0, fmt.Errorf("check order: %w", err)
	}
	defer rows.Close()

	var prev Event
	var n int64
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, n, err
		}
		if n > 0 && ev.Timestamp < prev.Timestamp {
			return &OrderViolation{Prev: prev, Next: ev}, n + 1, nil
		}
		prev = ev
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, n, fmt.Errorf("check order: %w", err)
	}
	return nil, n, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var ts int64
	if err := rows.Scan(&ev.Seq, &ev.Lane, &ts, &ev.SessionID, &ev.Payload); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Timestamp = clock.Timestamp(ts)
	return ev, nil
}
