package quiesce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_EnterExit(t *testing.T) {
	var g Gate
	assert.False(t, g.Busy())

	g.Enter()
	assert.True(t, g.Busy())
	assert.Equal(t, uint64(1), g.Generation())

	g.Exit()
	assert.False(t, g.Busy())
	assert.Equal(t, uint64(2), g.Generation())
}

func TestGroup_Wait_IdleReturnsImmediately(t *testing.T) {
	var a, b Gate
	grp := NewGroup(&a, &b)
	require.Equal(t, 2, grp.Len())

	done := make(chan struct{})
	go func() {
		grp.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked with no writes in flight")
	}
}

func TestGroup_Wait_BlocksUntilInFlightWriteExits(t *testing.T) {
	var a, b Gate
	grp := NewGroup(&a, &b)

	b.Enter()

	var returned atomic.Bool
	done := make(chan struct{})
	go func() {
		grp.Wait()
		returned.Store(true)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, returned.Load(), "Wait must not return while a write is in flight")

	b.Exit()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the write completed")
	}
}
