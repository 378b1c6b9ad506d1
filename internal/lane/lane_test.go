package lane

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lanetrace/internal/clock"
	"github.com/roach88/lanetrace/internal/testutil"
)

func newTestLane(t *testing.T, capacity int, policy Policy) *Lane {
	t.Helper()
	c := clock.New(testutil.NewStepSource(0, 1))
	l, err := New(Config{ID: 3, Capacity: capacity, Policy: policy, Stamp: c.Now})
	require.NoError(t, err)
	return l
}

func write(t *testing.T, l *Lane, payload string) clock.Timestamp {
	t.Helper()
	r, err := l.Reserve(len(payload))
	require.NoError(t, err)
	copy(r.Bytes(), payload)
	return r.Commit()
}

func readAll(l *Lane) []string {
	var out []string
	for {
		rec, ok := l.Peek()
		if !ok {
			return out
		}
		l.Consume()
		out = append(out, string(rec.Payload))
	}
}

func TestLane_New_Validation(t *testing.T) {
	c := clock.New(nil)

	_, err := New(Config{Capacity: MinCapacity - 1, Stamp: c.Now})
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(Config{Capacity: 64})
	assert.Error(t, err, "stamp function is required")
}

func TestLane_ReserveCommitPeekConsume(t *testing.T) {
	l := newTestLane(t, 256, DropNewest)
	assert.Equal(t, 3, l.ID())
	assert.True(t, l.EmptyFast())

	ts := write(t, l, "hello")
	assert.Equal(t, 1, l.Len())
	assert.False(t, l.EmptyFast())

	rec, ok := l.Peek()
	require.True(t, ok)
	assert.Equal(t, "hello", string(rec.Payload))
	assert.Equal(t, ts, rec.Timestamp)

	again, ok := l.Peek()
	require.True(t, ok, "peek without consume returns the same record")
	assert.Equal(t, rec, again)

	l.Consume()
	_, ok = l.Peek()
	assert.False(t, ok)
	assert.True(t, l.EmptyFast())
}

func TestLane_FIFOAndTimestampOrder(t *testing.T) {
	l := newTestLane(t, 1024, DropNewest)

	for i := 0; i < 10; i++ {
		write(t, l, fmt.Sprintf("m%d", i))
	}

	var last clock.Timestamp
	for i := 0; i < 10; i++ {
		rec, ok := l.Peek()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("m%d", i), string(rec.Payload))
		assert.Greater(t, rec.Timestamp, last)
		last = rec.Timestamp
		l.Consume()
	}
}

func TestLane_DropNewest(t *testing.T) {
	l := newTestLane(t, 2*RecordSize(1), DropNewest)

	write(t, l, "a")
	write(t, l, "b")

	_, err := l.Reserve(1)
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, uint64(1), l.Lost())

	assert.Equal(t, []string{"a", "b"}, readAll(l))
}

func TestLane_OverwriteOldest(t *testing.T) {
	l := newTestLane(t, 2*RecordSize(1), OverwriteOldest)

	write(t, l, "a")
	write(t, l, "b")
	write(t, l, "c")

	assert.Equal(t, uint64(1), l.Lost())
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []string{"b", "c"}, readAll(l))
}

func TestLane_OverwriteDoesNotEvictPeekedRecord(t *testing.T) {
	l := newTestLane(t, 2*RecordSize(1), OverwriteOldest)

	write(t, l, "a")
	write(t, l, "b")

	rec, ok := l.Peek()
	require.True(t, ok)
	require.Equal(t, "a", string(rec.Payload))

	write(t, l, "c")
	write(t, l, "d")

	assert.Equal(t, uint64(1), l.Lost(), "only b was evicted")
	assert.Equal(t, []string{"a", "c", "d"}, readAll(l))
}

func TestLane_TooLarge(t *testing.T) {
	for _, policy := range []Policy{DropNewest, OverwriteOldest} {
		t.Run(policy.String(), func(t *testing.T) {
			l := newTestLane(t, 32, policy)
			_, err := l.Reserve(32)
			assert.ErrorIs(t, err, ErrTooLarge)
			assert.Equal(t, uint64(1), l.Lost())
		})
	}
}

func TestLane_NegativeSize(t *testing.T) {
	l := newTestLane(t, 32, DropNewest)
	_, err := l.Reserve(-1)
	assert.Error(t, err)
	assert.Equal(t, uint64(0), l.Lost())
}

func TestLane_Abort(t *testing.T) {
	l := newTestLane(t, 64, DropNewest)

	r, err := l.Reserve(4)
	require.NoError(t, err)
	assert.True(t, l.Gate().Busy())
	r.Abort()

	assert.False(t, l.Gate().Busy())
	assert.True(t, l.EmptyFast())
	_, ok := l.Peek()
	assert.False(t, ok)
}

func TestLane_GateBracketsWrite(t *testing.T) {
	l := newTestLane(t, 64, DropNewest)
	before := l.Gate().Generation()

	r, err := l.Reserve(1)
	require.NoError(t, err)
	assert.True(t, l.Gate().Busy())
	r.Commit()

	assert.False(t, l.Gate().Busy())
	assert.Equal(t, before+2, l.Gate().Generation())
}

func TestLane_CommitTwicePanics(t *testing.T) {
	l := newTestLane(t, 64, DropNewest)
	r, err := l.Reserve(1)
	require.NoError(t, err)
	r.Commit()

	assert.Panics(t, func() { r.Commit() })
}

func TestLane_OnCommit(t *testing.T) {
	c := clock.New(nil)
	calls := 0
	l, err := New(Config{Capacity: 64, Stamp: c.Now, OnCommit: func() { calls++ }})
	require.NoError(t, err)

	write(t, l, "x")
	r, err := l.Reserve(1)
	require.NoError(t, err)
	r.Abort()

	assert.Equal(t, 1, calls)
}

func TestLane_WrapAround(t *testing.T) {
	// Capacity is deliberately not a multiple of the record size so records
	// and headers straddle the end of the ring.
	l := newTestLane(t, 3*RecordSize(5)+7, DropNewest)

	var want, got []string
	for i := 0; i < 200; i++ {
		p := fmt.Sprintf("p%03d", i%1000)[:4] + string(rune('a'+i%26))
		write(t, l, p)
		want = append(want, p)
		if i%2 == 1 {
			got = append(got, readAll(l)...)
		}
	}
	got = append(got, readAll(l)...)

	assert.Equal(t, want, got)
	assert.Equal(t, uint64(0), l.Lost())
}

func TestLane_ResetClearsContentAndLost(t *testing.T) {
	l := newTestLane(t, RecordSize(1), DropNewest)
	write(t, l, "a")
	_, err := l.Reserve(1)
	require.ErrorIs(t, err, ErrFull)
	_, ok := l.Peek()
	require.True(t, ok)

	l.Reset()

	assert.Equal(t, uint64(0), l.Lost())
	assert.True(t, l.EmptyFast())
	_, ok = l.Peek()
	assert.False(t, ok)
	write(t, l, "b")
	assert.Equal(t, []string{"b"}, readAll(l))
}

func TestLane_Replace(t *testing.T) {
	l := newTestLane(t, 64, DropNewest)
	write(t, l, "old")

	buf, err := Allocate(128)
	require.NoError(t, err)
	l.Replace(buf)

	assert.Equal(t, 128, l.Capacity())
	assert.True(t, l.EmptyFast())
	write(t, l, "new")
	assert.Equal(t, []string{"new"}, readAll(l))
}

func TestLane_OpenReservationDoesNotBlockReader(t *testing.T) {
	l := newTestLane(t, 64, DropNewest)
	write(t, l, "first")

	r, err := l.Reserve(6)
	require.NoError(t, err)

	done := make(chan []string, 1)
	go func() { done <- readAll(l) }()
	select {
	case got := <-done:
		assert.Equal(t, []string{"first"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("reader blocked by an open reservation")
	}

	reset := make(chan struct{})
	go func() {
		l.Reset()
		close(reset)
	}()
	select {
	case <-reset:
	case <-time.After(2 * time.Second):
		t.Fatal("reset blocked by an open reservation")
	}

	copy(r.Bytes(), "second")
	r.Commit()
	assert.Equal(t, []string{"second"}, readAll(l))
}

func TestLane_CommitAfterShrinkingReplaceIsLost(t *testing.T) {
	l := newTestLane(t, 128, DropNewest)

	r, err := l.Reserve(40)
	require.NoError(t, err)
	buf, err := Allocate(32)
	require.NoError(t, err)
	l.Replace(buf)

	r.Commit()
	assert.True(t, l.EmptyFast())
	assert.Equal(t, uint64(1), l.Lost())
	assert.False(t, l.Gate().Busy())

	write(t, l, "ok")
	assert.Equal(t, []string{"ok"}, readAll(l))
}

func TestAllocate(t *testing.T) {
	buf, err := Allocate(MinCapacity)
	require.NoError(t, err)
	assert.Len(t, buf, MinCapacity)

	_, err = Allocate(0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestLane_ConcurrentWriterAndReader(t *testing.T) {
	l := newTestLane(t, 10*RecordSize(8), DropNewest)
	const total = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	committed := 0
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			r, err := l.Reserve(8)
			if err != nil {
				continue
			}
			copy(r.Bytes(), fmt.Sprintf("%08d", i))
			r.Commit()
			committed++
		}
	}()

	delivered := 0
	var last clock.Timestamp
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		for {
			rec, ok := l.Peek()
			if !ok {
				break
			}
			require.Greater(t, rec.Timestamp, last)
			last = rec.Timestamp
			l.Consume()
			delivered++
		}
	}

	assert.Equal(t, committed, delivered)
	assert.Equal(t, uint64(total-committed), l.Lost())
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"drop-newest", DropNewest, false},
		{"", DropNewest, false},
		{"overwrite-oldest", OverwriteOldest, false},
		{"ring", DropNewest, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.in != "" {
				assert.Equal(t, tt.in, got.String())
			}
		})
	}
}
