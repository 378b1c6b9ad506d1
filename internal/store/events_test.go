package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lanetrace/internal/clock"
)

func testEvents() []Event {
	return []Event{
		{Lane: 0, Timestamp: 10, SessionID: "s1", Payload: []byte("a")},
		{Lane: 1, Timestamp: 11, SessionID: "s1", Payload: []byte("b")},
		{Lane: 0, Timestamp: 15, SessionID: "s2", Payload: []byte("c")},
		{Lane: 2, Timestamp: 20, SessionID: "s2", Payload: nil},
	}
}

func TestAppendEvents_ReadBackInOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvents(ctx, testEvents()))

	got, err := s.ReadEvents(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, ev := range got {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, "a", string(got[0].Payload))
	assert.Equal(t, clock.Timestamp(20), got[3].Timestamp)
	assert.Empty(t, got[3].Payload)

	n, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestAppendEvents_Empty(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.AppendEvents(context.Background(), nil))

	got, err := s.ReadEvents(context.Background(), Filter{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAppendEvents_CancelledContextStoresNothing(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.AppendEvents(ctx, testEvents())
	require.Error(t, err)

	n, err := s.CountEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestReadEvents_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendEvents(ctx, testEvents()))

	lane0 := 0
	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{"lane", Filter{Lane: &lane0}, []string{"a", "c"}},
		{"session", Filter{SessionID: "s2"}, []string{"c", ""}},
		{"after seq", Filter{AfterSeq: 2}, []string{"c", ""}},
		{"limit", Filter{Limit: 1}, []string{"a"}},
		{"combined", Filter{Lane: &lane0, SessionID: "s1"}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ReadEvents(ctx, tt.f)
			require.NoError(t, err)
			var payloads []string
			for _, ev := range got {
				payloads = append(payloads, string(ev.Payload))
			}
			assert.Equal(t, tt.want, payloads)
		})
	}
}

func TestCheckOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("ordered", func(t *testing.T) {
		s := createTestStore(t)
		require.NoError(t, s.AppendEvents(ctx, testEvents()))

		v, n, err := s.CheckOrder(ctx)
		require.NoError(t, err)
		assert.Nil(t, v)
		assert.Equal(t, int64(4), n)
	})

	t.Run("equal timestamps are ordered", func(t *testing.T) {
		s := createTestStore(t)
		require.NoError(t, s.AppendEvents(ctx, []Event{
			{Lane: 0, Timestamp: 5}, {Lane: 1, Timestamp: 5},
		}))
		v, _, err := s.CheckOrder(ctx)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("violation", func(t *testing.T) {
		s := createTestStore(t)
		require.NoError(t, s.AppendEvents(ctx, []Event{
			{Lane: 0, Timestamp: 5, Payload: []byte("x")},
			{Lane: 1, Timestamp: 9, Payload: []byte("y")},
			{Lane: 0, Timestamp: 7, Payload: []byte("z")},
			{Lane: 0, Timestamp: 1},
		}))
		v, n, err := s.CheckOrder(ctx)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, "y", string(v.Prev.Payload))
		assert.Equal(t, "z", string(v.Next.Payload))
		assert.Equal(t, int64(3), n)
	})
}

func TestSessions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteSession(ctx, Session{ID: "b", Start: 10, End: 20}))
	require.NoError(t, s.WriteSession(ctx, Session{ID: "a", Start: 0, End: 10}))
	require.NoError(t, s.WriteSession(ctx, Session{ID: "a", Start: 0, End: 10}), "duplicate is ignored")

	got, err := s.ReadSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Session{
		{ID: "a", Start: 0, End: 10},
		{ID: "b", Start: 10, End: 20},
	}, got)
}

func TestLastTimestamp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	last, err := s.LastTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Timestamp(0), last, "empty log")

	require.NoError(t, s.AppendEvents(ctx, []Event{
		{Lane: 0, Timestamp: 300, SessionID: "a", Payload: []byte("x")},
		{Lane: 1, Timestamp: 200, SessionID: "a", Payload: []byte("y")},
	}))
	last, err = s.LastTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Timestamp(300), last)

	require.NoError(t, s.WriteSession(ctx, Session{ID: "a", Start: 0, End: 450}))
	last, err = s.LastTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Timestamp(450), last, "a session end past every event counts")
}

func TestSnapshots(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	_, err = s.WriteSnapshot(ctx, Snapshot{TakenAt: at, Lanes: 4, LaneSize: 4096, Policy: "drop-newest", Delivered: 10, Lost: 1})
	require.NoError(t, err)
	seq, err := s.WriteSnapshot(ctx, Snapshot{TakenAt: at.Add(time.Second), Lanes: 4, LaneSize: 4096, Policy: "drop-newest", Delivered: 25, Lost: 3})
	require.NoError(t, err)

	snap, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, seq, snap.Seq)
	assert.Equal(t, uint64(25), snap.Delivered)
	assert.Equal(t, uint64(3), snap.Lost)
	assert.Equal(t, "drop-newest", snap.Policy)
	assert.True(t, snap.TakenAt.Equal(at.Add(time.Second)))
}
