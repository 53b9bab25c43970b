// ABOUTME: Tests for the session registry
// ABOUTME: Covers registration, monotonic transitions, device interrupts and idle expiry

package session

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type countingSlot struct{ released atomic.Int32 }

func (c *countingSlot) Release() { c.released.Add(1) }

func newTestRegistry(opts ...Option) *Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{WithClock(func() time.Time { return epoch })}
	return NewRegistry(logger, append(base, opts...)...)
}

func sequentialIDs() Option {
	var n atomic.Int32
	return WithIDGenerator(func() string { return fmt.Sprintf("gen-%d", n.Add(1)) })
}

func TestRegister_HonorsSuggestedID(t *testing.T) {
	r := newTestRegistry(sequentialIDs())

	s := r.Register("hw1", "S1", &countingSlot{})

	assert.Equal(t, "S1", s.ID())
	assert.Equal(t, "hw1", s.HardwareID())
	assert.Equal(t, epoch, s.OpenedAt())
	state, ok := r.State("S1")
	require.True(t, ok)
	assert.Equal(t, StateActive, state)
}

func TestRegister_GeneratesIDWhenMissingOrTaken(t *testing.T) {
	r := newTestRegistry(sequentialIDs())

	a := r.Register("hw1", "", nil)
	b := r.Register("hw1", "S1", nil)
	c := r.Register("hw2", "S1", nil)

	assert.Equal(t, "gen-1", a.ID())
	assert.Equal(t, "S1", b.ID())
	assert.Equal(t, "gen-2", c.ID())
	assert.Equal(t, 3, r.Count())
}

func TestTouch_MonotonicAndCountsUnits(t *testing.T) {
	r := newTestRegistry()
	r.Register("hw1", "S1", nil)

	assert.True(t, r.Touch("S1", epoch.Add(5*time.Second)))
	assert.True(t, r.Touch("S1", epoch.Add(2*time.Second)))

	snap, ok := r.Get("S1")
	require.True(t, ok)
	assert.Equal(t, epoch.Add(5*time.Second), snap.LastActivity)
	assert.Equal(t, 2, snap.UnitsSent)
}

func TestTouch_RejectedAfterTerminal(t *testing.T) {
	r := newTestRegistry()
	r.Register("hw1", "S1", nil)
	require.True(t, r.Mark("S1", StateInterrupted))

	assert.False(t, r.Touch("S1", epoch.Add(time.Second)))
	assert.False(t, r.Touch("missing", epoch))
}

func TestMark_MonotonicTransitions(t *testing.T) {
	tests := []struct {
		name  string
		first State
		then  State
	}{
		{"interrupted then completed", StateInterrupted, StateCompleted},
		{"expired then interrupted", StateExpired, StateInterrupted},
		{"completed then expired", StateCompleted, StateExpired},
		{"completed then active", StateCompleted, StateActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			r.Register("hw1", "S1", nil)

			assert.True(t, r.Mark("S1", tt.first))
			assert.False(t, r.Mark("S1", tt.then))

			state, _ := r.State("S1")
			assert.Equal(t, tt.first, state)
		})
	}
}

func TestMark_ActiveToActiveIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Register("hw1", "S1", nil)

	assert.False(t, r.Mark("S1", StateActive))
	assert.False(t, r.Mark("missing", StateCompleted))
}

func TestInterruptDevice_OnlyActiveSessionsOfDevice(t *testing.T) {
	r := newTestRegistry()
	r.Register("hw1", "S2", nil)
	r.Register("hw1", "S1", nil)
	r.Register("hw1", "S3", nil)
	r.Register("hw2", "T1", nil)
	require.True(t, r.Mark("S3", StateCompleted))

	ids := r.InterruptDevice("hw1")

	assert.Equal(t, []string{"S1", "S2"}, ids)
	state, _ := r.State("T1")
	assert.Equal(t, StateActive, state)
	state, _ = r.State("S3")
	assert.Equal(t, StateCompleted, state)
}

func TestInterruptDevice_NoStaleFlag(t *testing.T) {
	r := newTestRegistry()
	r.Register("hw1", "S1", nil)

	assert.Equal(t, []string{"S1"}, r.InterruptDevice("hw1"))
	assert.Equal(t, []string{}, r.InterruptDevice("hw1"))

	r.Register("hw1", "S2", nil)
	state, _ := r.State("S2")
	assert.Equal(t, StateActive, state)
	assert.Len(t, r.GetActive("hw1"), 1)
}

func TestExpireIdle_ClosesReapedChannel(t *testing.T) {
	r := newTestRegistry()
	idle := r.Register("hw1", "idle", nil)
	busy := r.Register("hw1", "busy", nil)
	r.Touch("busy", epoch.Add(200*time.Second))

	expired := r.ExpireIdle(epoch.Add(100 * time.Second))

	require.Len(t, expired, 1)
	assert.Equal(t, "idle", expired[0].ID())
	select {
	case <-idle.Reaped():
	default:
		t.Fatal("expected reaped channel to be closed")
	}
	select {
	case <-busy.Reaped():
		t.Fatal("busy session should not be reaped")
	default:
	}

	// A second sweep does not re-expire.
	assert.Empty(t, r.ExpireIdle(epoch.Add(100*time.Second)))
}

func TestRemove_Idempotent(t *testing.T) {
	r := newTestRegistry()
	r.Register("hw1", "S1", nil)

	assert.True(t, r.Remove("S1"))
	assert.False(t, r.Remove("S1"))
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.GetActive("hw1"))
	_, ok := r.State("S1")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := r.Register("hw1", "", nil)
			r.Touch(s.ID(), time.Now())
			if i%2 == 0 {
				r.InterruptDevice("hw1")
			}
			r.Mark(s.ID(), StateCompleted)
			r.Remove(s.ID())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "interrupted", StateInterrupted.String())
	assert.Equal(t, "expired", StateExpired.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.False(t, StateActive.Terminal())
	assert.True(t, StateExpired.Terminal())
}
