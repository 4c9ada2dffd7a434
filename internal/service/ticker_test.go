package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackgroundTaskTriggersCleanup(t *testing.T) {
	f := newFixture(t, nil)
	var built atomic.Int32
	task := NewBackgroundTask(f.orch, 5*time.Millisecond, func() CleanupOptions {
		built.Add(1)
		return CleanupOptions{SkipNetwork: true}
	})

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})
	go func() {
		task.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := f.orch.LastRun()
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.GreaterOrEqual(t, built.Load(), int32(1))
	require.Equal(t, 1, f.calls.count("refresh"), "later ticks fall inside the throttle window")
	require.True(t, f.lastRun(t).SkipNetwork)
}

func TestBackgroundTaskWithoutIntervalReturns(t *testing.T) {
	f := newFixture(t, nil)
	NewBackgroundTask(f.orch, 0, nil).Start(context.Background())
	_, ok := f.orch.LastRun()
	require.False(t, ok)
}
