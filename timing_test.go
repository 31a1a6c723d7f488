package xemit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
	quiet   = 50 * time.Millisecond
)

func TestDelay(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	e.On("t", r.handler).Delay(100 * time.Millisecond)

	e.Emit("t", 1)
	assert.Empty(t, r.got(), "delivery must not happen inside Emit")

	mock.Add(99 * time.Millisecond)
	assert.Never(t, func() bool { return r.count() > 0 }, quiet, tick)

	mock.Add(time.Millisecond)
	assert.Eventually(t, func() bool { return r.count() == 1 }, waitFor, tick)
	assert.Equal(t, []any{1}, r.got())
}

func TestDefer(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	e.On("t", r.handler).Defer()

	e.Emit("t", "later")
	assert.Empty(t, r.got())

	mock.Add(time.Nanosecond)
	assert.Eventually(t, func() bool { return r.count() == 1 }, waitFor, tick)
}

func TestDelay_UnsubscribeCancelsPending(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	s := e.On("t", r.handler).Delay(10 * time.Millisecond)

	e.Emit("t", 1)
	e.Emit("t", 2)
	assert.Equal(t, 2, s.pendingTimers())

	s.Unsubscribe()
	assert.Zero(t, s.pendingTimers())

	mock.Add(time.Second)
	assert.Never(t, func() bool { return r.count() > 0 }, quiet, tick)
}

func TestDelay_ContinuationChecksActiveFlag(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	s := e.On("t", r.handler).Delay(10 * time.Millisecond)

	e.Emit("t", 1)
	// Flip the flag without stopping timers: the continuation itself must bail.
	s.active.Store(false)
	mock.Add(10 * time.Millisecond)
	assert.Never(t, func() bool { return r.count() > 0 }, quiet, tick)
}

func TestDelay_FailureIsRecorded(t *testing.T) {
	e, mock := newTestEmitter(t, func(b *EmitterBuilder) {
		b.WithConfig(Config{TrackErrors: true, ErrorLogSize: 10})
	})
	s := e.On("t", func(context.Context, any, *Envelope) error {
		return errors.New("late failure")
	}).Delay(time.Millisecond)

	e.Emit("t", nil)
	assert.False(t, s.Failed())

	mock.Add(time.Millisecond)
	assert.Eventually(t, func() bool { return len(e.Errors()) == 1 }, waitFor, tick)
	assert.True(t, s.Failed())
}

func TestDelay_DisposeAfterStillApplies(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	s := e.On("t", r.handler).Delay(time.Millisecond).Once()

	e.Emit("t", 1)
	e.Emit("t", 2)
	mock.Add(time.Millisecond)

	assert.Eventually(t, func() bool { return !s.IsActive() }, waitFor, tick)
	assert.Never(t, func() bool { return r.count() > 1 }, quiet, tick)
	assert.Len(t, r.got(), 1)
}

func TestDebounce_Trailing(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	s := e.On("t", r.handler).Debounce(100*time.Millisecond, false)

	e.Emit("t", 1)
	mock.Add(50 * time.Millisecond)
	e.Emit("t", 2)
	mock.Add(60 * time.Millisecond)
	assert.Never(t, func() bool { return r.count() > 0 }, quiet, tick)
	assert.Equal(t, 1, s.pendingTimers())

	mock.Add(40 * time.Millisecond)
	assert.Eventually(t, func() bool { return r.count() == 1 }, waitFor, tick)
	assert.Equal(t, []any{2}, r.got())
}

func TestDebounce_Immediate(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	e.On("t", r.handler).Debounce(100*time.Millisecond, true)

	e.Emit("t", 1)
	assert.Equal(t, []any{1}, r.got(), "leading edge is synchronous")

	e.Emit("t", 2)
	mock.Add(100 * time.Millisecond)
	assert.Never(t, func() bool { return r.count() > 1 }, quiet, tick)

	e.Emit("t", 3)
	assert.Equal(t, []any{1, 3}, r.got())
}

func TestDebounce_UnsubscribeCancelsPending(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	s := e.On("t", r.handler).Debounce(20*time.Millisecond, false)

	e.Emit("t", 1)
	s.Unsubscribe()
	mock.Add(time.Second)
	assert.Never(t, func() bool { return r.count() > 0 }, quiet, tick)
}

func TestThrottle(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	e.On("t", r.handler).Throttle(100 * time.Millisecond)

	e.Emit("t", 1)
	assert.Equal(t, []any{1}, r.got(), "leading edge is synchronous")

	e.Emit("t", 2)
	e.Emit("t", 3)
	assert.Len(t, r.got(), 1)

	mock.Add(100 * time.Millisecond)
	assert.Eventually(t, func() bool { return r.count() == 2 }, waitFor, tick)
	assert.Equal(t, []any{1, 3}, r.got())

	mock.Add(100 * time.Millisecond)
	e.Emit("t", 4)
	assert.Equal(t, []any{1, 3, 4}, r.got())
}

func TestThrottle_SpacedEventsAllPass(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	s := e.On("t", r.handler).Throttle(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		e.Emit("t", i)
		mock.Add(10 * time.Millisecond)
	}
	assert.Equal(t, []any{0, 1, 2}, r.got())
	assert.Zero(t, s.pendingTimers())
}

func TestTiming_StepsComposeWithFilters(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	e.On("t", r.handler).
		Constraint(func(data any, _ *Envelope) bool { return data.(int) > 0 }).
		DistinctUntilChanged().
		Delay(5 * time.Millisecond)

	for _, v := range []int{0, 1, 1, 2} {
		e.Emit("t", v)
	}
	mock.Add(5 * time.Millisecond)

	require.Eventually(t, func() bool { return r.count() == 2 }, waitFor, tick)
	assert.Equal(t, []any{1, 2}, r.got())
}

func TestDelay_PreservesEmitOrder(t *testing.T) {
	e, mock := newTestEmitter(t)

	var (
		r       recorder
		running atomic.Int32
		overlap atomic.Bool
	)
	e.On("t", func(ctx context.Context, data any, env *Envelope) error {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		defer running.Add(-1)
		time.Sleep(time.Millisecond)
		return r.handler(ctx, data, env)
	}).Delay(10 * time.Millisecond)

	want := make([]any, 0, 20)
	for i := 1; i <= 20; i++ {
		e.Emit("t", i)
		want = append(want, i)
	}
	mock.Add(10 * time.Millisecond)

	require.Eventually(t, func() bool { return r.count() == len(want) }, waitFor, tick)
	assert.Equal(t, want, r.got())
	assert.False(t, overlap.Load(), "deferred deliveries of one subscription must not overlap")
}

func TestDefer_PreservesEmitOrder(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	e.On("t", r.handler).Defer()

	for _, v := range []string{"a", "b", "c", "d"} {
		e.Emit("t", v)
	}
	mock.Add(time.Nanosecond)

	require.Eventually(t, func() bool { return r.count() == 4 }, waitFor, tick)
	assert.Equal(t, []any{"a", "b", "c", "d"}, r.got())
}

func TestDelay_LaterDueWaitsForEarlier(t *testing.T) {
	e, mock := newTestEmitter(t)
	var r recorder
	e.On("t", r.handler).Delay(10 * time.Millisecond)

	e.Emit("t", 1)
	mock.Add(5 * time.Millisecond)
	e.Emit("t", 2)
	mock.Add(10 * time.Millisecond)

	require.Eventually(t, func() bool { return r.count() == 2 }, waitFor, tick)
	assert.Equal(t, []any{1, 2}, r.got())
}

func TestSchedule_CancelledHeadReleasesFiredContinuations(t *testing.T) {
	e, _ := newTestEmitter(t)
	s := e.On("t", noop)

	var ran atomic.Int32
	first := s.schedule(10*time.Millisecond, func() { ran.Add(1) })
	s.schedule(10*time.Millisecond, func() { ran.Add(10) })
	require.Equal(t, 2, s.pendingTimers())

	// The second continuation fired but must wait behind the first.
	s.timersMu.Lock()
	second := s.tasks[1]
	s.timersMu.Unlock()
	s.fire(second)
	assert.Zero(t, ran.Load())

	s.cancel(first)
	assert.Eventually(t, func() bool { return ran.Load() == 10 }, waitFor, tick)
	assert.Zero(t, s.pendingTimers())
}
