package clock

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lanetrace/internal/testutil"
)

func TestClock_Now_FollowsSource(t *testing.T) {
	c := New(testutil.NewStepSource(0, 10))

	assert.Equal(t, Timestamp(10), c.Now())
	assert.Equal(t, Timestamp(20), c.Now())
	assert.Equal(t, Timestamp(20), c.Last())
}

func TestClock_Now_CorrectsCollisions(t *testing.T) {
	c := New(testutil.NewFrozenSource(100))

	assert.Equal(t, Timestamp(100), c.Now())
	assert.Equal(t, Timestamp(101), c.Now(), "colliding reading is bumped to last+1")
	assert.Equal(t, Timestamp(102), c.Now())
}

func TestClock_Now_CorrectsBackwardsSource(t *testing.T) {
	src := testutil.NewStepSource(1000, 1)
	c := New(src)

	first := c.Now()
	src.Set(5)
	second := c.Now()

	assert.Greater(t, second, first)
}

func TestClock_Now_StrictlyIncreasingAcrossGoroutines(t *testing.T) {
	c := New(testutil.NewFrozenSource(42))
	const goroutines = 16
	const calls = 500

	var wg sync.WaitGroup
	results := make([][]Timestamp, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			local := make([]Timestamp, 0, calls)
			for i := 0; i < calls; i++ {
				local = append(local, c.Now())
			}
			results[g] = local
		}(g)
	}
	wg.Wait()

	seen := make(map[Timestamp]bool, goroutines*calls)
	var all []Timestamp
	for _, local := range results {
		for i := 1; i < len(local); i++ {
			require.Greater(t, local[i], local[i-1], "per-goroutine order must be strict")
		}
		for _, ts := range local {
			require.False(t, seen[ts], "timestamp %d issued twice", ts)
			seen[ts] = true
			all = append(all, ts)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	assert.Equal(t, Timestamp(42), all[0])
	assert.Equal(t, Timestamp(42+goroutines*calls-1), all[len(all)-1])
}

func TestClock_NilSourceUsesMonotonic(t *testing.T) {
	c := New(nil)
	a := c.Now()
	b := c.Now()
	assert.Greater(t, b, a)
}

func TestMonotonicSourceAt_StartsAtBase(t *testing.T) {
	const base = Timestamp(5_000_000_000)
	src := NewMonotonicSourceAt(base)

	first := src.Nanotime()
	assert.GreaterOrEqual(t, first, int64(base))
	assert.GreaterOrEqual(t, src.Nanotime(), first)

	c := New(src)
	assert.Greater(t, c.Now(), base)
}

func TestTimestamp_String(t *testing.T) {
	tests := []struct {
		ts   Timestamp
		want string
	}{
		{0, "0.000000"},
		{1_500, "0.000001"},
		{2_000_123_456, "2.000123"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ts.String())
		})
	}
}
