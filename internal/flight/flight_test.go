package flight

import (
	"context"
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestConcurrentCallersShareOneFlight(t *testing.T) {
	g := New("cleanup", 12*time.Second, WithClock(newClock().Now))

	release := make(chan struct{})
	var runs atomic.Int32
	body := func(context.Context) {
		runs.Add(1)
		<-release
	}

	decision, first := g.Do(context.Background(), false, body)
	require.Equal(t, Run, decision)

	var wg sync.WaitGroup
	handles := make([]*Flight, 10)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, f := g.Do(context.Background(), i%2 == 0, body)
			assert.Equal(t, Join, d)
			handles[i] = f
		}(i)
	}
	wg.Wait()
	close(release)

	for _, h := range handles {
		require.Same(t, first, h)
		require.NoError(t, h.Wait(context.Background()))
	}
	require.EqualValues(t, 1, runs.Load())
	require.False(t, g.Snapshot().InFlight)
}

func TestThrottleWindow(t *testing.T) {
	clock := newClock()
	g := New("cleanup", 12*time.Second, WithClock(clock.Now))

	d, f := g.TryAcquire(false)
	require.Equal(t, Run, d)
	g.Release(f)

	clock.Advance(5 * time.Second)
	d, f = g.TryAcquire(false)
	require.Equal(t, Skip, d)
	require.Nil(t, f)

	clock.Advance(7 * time.Second)
	d, f = g.TryAcquire(false)
	require.Equal(t, Run, d, "exactly minInterval after start runs again")
	g.Release(f)
}

func TestForceBypassesThrottleButNotSingleFlight(t *testing.T) {
	clock := newClock()
	g := New("cleanup", 12*time.Second, WithClock(clock.Now))

	d, running := g.TryAcquire(false)
	require.Equal(t, Run, d)

	clock.Advance(time.Millisecond)
	d, joined := g.TryAcquire(true)
	require.Equal(t, Join, d)
	require.Same(t, running, joined)

	g.Release(running)
	clock.Advance(time.Millisecond)
	d, next := g.TryAcquire(true)
	require.Equal(t, Run, d)
	require.NotSame(t, running, next)
	g.Release(next)
}

func TestPanicReleasesGate(t *testing.T) {
	g := New("cleanup", 0)

	_, f := g.Do(context.Background(), false, func(context.Context) {
		panic("stage exploded")
	})
	require.NoError(t, f.Wait(context.Background()))
	require.Error(t, f.Err())
	require.Contains(t, f.Err().Error(), "stage exploded")

	snap := g.Snapshot()
	require.False(t, snap.InFlight)
	require.False(t, snap.LastFinishedAt.IsZero())

	d, f2 := g.Do(context.Background(), false, func(context.Context) {})
	require.Equal(t, Run, d)
	require.NoError(t, f2.Wait(context.Background()))
}

func TestRunIsDetachedFromCallerCancellation(t *testing.T) {
	g := New("cleanup", 0)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	finish := make(chan struct{})
	var sawCancel atomic.Bool
	_, f := g.Do(ctx, false, func(runCtx context.Context) {
		close(started)
		<-finish
		sawCancel.Store(runCtx.Err() != nil)
	})
	<-started
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer waitCancel()
	require.ErrorIs(t, f.Wait(waitCtx), context.DeadlineExceeded)

	close(finish)
	require.NoError(t, f.Wait(context.Background()))
	require.False(t, sawCancel.Load())
}

func TestReleaseOfStaleFlightIsNoop(t *testing.T) {
	g := New("cloudkit", 45*time.Second)
	_, f := g.TryAcquire(false)
	g.Release(f)
	require.NotPanics(t, func() { g.Release(f) })
	g.Release(nil)
}

func TestCurrentTracksTheRunningFlight(t *testing.T) {
	g := New("cleanup", time.Second)
	require.Nil(t, g.Current())
	_, f := g.TryAcquire(false)
	require.Same(t, f, g.Current())
	g.Release(f)
	require.Nil(t, g.Current())
}

func TestDecisionString(t *testing.T) {
	require.Equal(t, "run", Run.String())
	require.Equal(t, "joined", Join.String())
	require.Equal(t, "throttled", Skip.String())
}
