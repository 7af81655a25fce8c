package looper

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type trace struct {
	mu  sync.Mutex
	got []int
}

func (tr *trace) add(v int) {
	tr.mu.Lock()
	tr.got = append(tr.got, v)
	tr.mu.Unlock()
}

func (tr *trace) snapshot() []int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]int(nil), tr.got...)
}

func newLooper(t *testing.T, opts ...Option) *Looper {
	t.Helper()
	l := New(t.Name(), opts...)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppend_FIFO(t *testing.T) {
	l := newLooper(t)
	l.SetRunning(false)

	tr := &trace{}
	for i := 0; i < 10; i++ {
		i := i
		// later RunAt first: append ignores scheduling
		l.Append(&Message{RunAt: time.Now().Add(-time.Duration(i) * time.Millisecond), Handler: func() Status {
			tr.add(i)
			return Done
		}})
	}
	l.SetRunning(true)

	require.Eventually(t, func() bool { return len(tr.snapshot()) == 10 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, tr.snapshot())
}

func TestPost_RunAtOrder(t *testing.T) {
	l := newLooper(t)
	l.SetRunning(false)

	base := time.Now()
	tr := &trace{}
	for _, off := range []int{30, 10, 20, 10, 0} {
		off := off
		l.Post(&Message{RunAt: base.Add(time.Duration(off) * time.Millisecond), Handler: func() Status {
			tr.add(off)
			return Done
		}})
	}
	l.SetRunning(true)

	require.Eventually(t, func() bool { return len(tr.snapshot()) == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{0, 10, 10, 20, 30}, tr.snapshot())
}

func TestPost_StableTies(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	l := newLooper(t, WithClock(clk.Now))
	l.SetRunning(false)

	at := clk.Now()
	first := &Message{RunAt: at}
	second := &Message{RunAt: at}
	l.Post(first)
	l.Post(second)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.queue, 2)
	assert.Same(t, first, l.queue[0])
	assert.Same(t, second, l.queue[1])
}

func TestPost_DelayedHandlerWaits(t *testing.T) {
	l := newLooper(t)
	var ran atomic.Bool
	start := time.Now()
	var at time.Time
	l.PostFunc(30*time.Millisecond, 0, func() Status {
		at = time.Now()
		ran.Store(true)
		return Done
	})
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, at.Sub(start), 30*time.Millisecond)
}

func TestPost_EarlierMessageWakesLooper(t *testing.T) {
	l := newLooper(t)
	var late, early atomic.Bool
	l.PostFunc(time.Hour, 0, func() Status { late.Store(true); return Done })
	l.PostFunc(0, 0, func() Status { early.Store(true); return Done })

	require.Eventually(t, early.Load, time.Second, time.Millisecond)
	assert.False(t, late.Load())
	assert.Equal(t, 1, l.Len())
}

func TestRetry_KeepsMessageAtHead(t *testing.T) {
	l := newLooper(t, WithRetryBackoff(5*time.Millisecond))

	var attempts atomic.Int32
	tr := &trace{}
	l.AppendFunc(func() Status {
		if attempts.Add(1) < 3 {
			return Retry
		}
		tr.add(1)
		return Done
	})
	l.AppendFunc(func() Status {
		tr.add(2)
		return Done
	})

	require.Eventually(t, func() bool { return len(tr.snapshot()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{1, 2}, tr.snapshot())
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetry_DoesNotStallOtherLooper(t *testing.T) {
	stalled := newLooper(t, WithRetryBackoff(time.Millisecond))
	other := newLooper(t)

	stalled.AppendFunc(func() Status { return Retry })
	var ran atomic.Bool
	other.AppendFunc(func() Status { ran.Store(true); return Done })

	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
	assert.Equal(t, 1, stalled.Len())
}

func TestPausedLooperDoesNotDispatch(t *testing.T) {
	l := newLooper(t)
	l.SetRunning(false)
	assert.False(t, l.Running())

	var ran atomic.Bool
	l.AppendFunc(func() Status { ran.Store(true); return Done })
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())

	l.SetRunning(true)
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestReschedule_ShiftsByPausedDuration(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	l := newLooper(t, WithClock(clk.Now))
	l.SetRunning(false)

	t0 := clk.Now()
	head := &Message{RunAt: t0.Add(10 * time.Millisecond), Timestamp: 1_000_000}
	stamped := &Message{RunAt: t0.Add(50 * time.Millisecond), Timestamp: 1_040_000}
	plain := &Message{RunAt: t0.Add(70 * time.Millisecond)}
	l.Post(head)
	l.Post(stamped)
	l.Post(plain)

	clk.Advance(2 * time.Second)
	l.Reschedule()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, t0.Add(2*time.Second+10*time.Millisecond), head.RunAt)
	// spacing follows the source timestamps: 40ms after the head
	assert.Equal(t, head.RunAt.Add(40*time.Millisecond), stamped.RunAt)
	assert.Equal(t, t0.Add(2*time.Second+70*time.Millisecond), plain.RunAt)
	assert.True(t, l.pausedAt.IsZero())
}

func TestReschedule_EmptyQueueResetsPause(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	l := newLooper(t, WithClock(clk.Now))
	l.SetRunning(false)
	l.Reschedule()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.True(t, l.pausedAt.IsZero())
}

func TestReschedule_NoopWhileRunning(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	l := newLooper(t, WithClock(clk.Now))

	msg := &Message{RunAt: clk.Now().Add(time.Hour)}
	l.Post(msg)
	clk.Advance(time.Minute)
	l.Reschedule()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, time.Unix(1000, 0).Add(time.Hour), msg.RunAt)
}

func TestZeroClockFiresImmediately(t *testing.T) {
	l := newLooper(t, WithClock(func() time.Time { return time.Time{} }))
	var ran atomic.Bool
	l.Post(&Message{RunAt: time.Now().Add(time.Hour), Handler: func() Status {
		ran.Store(true)
		return Done
	}})
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestClearAll(t *testing.T) {
	l := newLooper(t)
	l.SetRunning(false)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		l.AppendFunc(func() Status { ran.Add(1); return Done })
	}
	assert.Equal(t, 5, l.Len())

	l.ClearAll()
	assert.Equal(t, 0, l.Len())
	l.SetRunning(true)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}

func TestCancelAll_RunsCancellers(t *testing.T) {
	l := newLooper(t)
	l.SetRunning(false)

	var handled, cancelled atomic.Int32
	for i := 0; i < 3; i++ {
		l.Append(&Message{
			Handler: func() Status { handled.Add(1); return Done },
			Cancel:  func() { cancelled.Add(1) },
		})
	}
	l.AppendFunc(func() Status { handled.Add(1); return Done })

	l.CancelAll()
	assert.Equal(t, int32(3), cancelled.Load())
	assert.Equal(t, int32(0), handled.Load())
	assert.Equal(t, 0, l.Len())
}

func TestClose(t *testing.T) {
	l := New("close", WithRetryBackoff(time.Hour))
	l.AppendFunc(func() Status { return Retry })
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close blocked on retry backoff")
	}

	var ran atomic.Bool
	l.AppendFunc(func() Status { ran.Store(true); return Done })
	assert.Equal(t, 0, l.Len())
	assert.NoError(t, l.Close())
}

func TestCloseDropsPending(t *testing.T) {
	l := New("close-pending")
	l.SetRunning(false)

	var ran atomic.Int32
	for range 3 {
		l.AppendFunc(func() Status { ran.Add(1); return Done })
	}
	require.Equal(t, 3, l.Len())

	require.NoError(t, l.Close())
	assert.Zero(t, l.Len())
	assert.Zero(t, ran.Load(), "pending handlers never run")
}
