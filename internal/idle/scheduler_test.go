package idle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunWhenIdleRunsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(4)
	s.Start(ctx)
	defer s.Shutdown()

	var mu sync.Mutex
	var order []string
	for _, label := range []string{"load-buckets", "load-notifications", "refresh"} {
		err := s.RunWhenIdle(ctx, label, func(context.Context) error {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, s.Yield(ctx))
	}
	require.Equal(t, []string{"load-buckets", "load-notifications", "refresh"}, order)
	require.Zero(t, s.Fallbacks())
}

func TestRunWhenIdleReturnsErrorsAndPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(1)
	s.Start(ctx)
	defer s.Shutdown()

	boom := errors.New("boom")
	err := s.RunWhenIdle(ctx, "retention", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	err = s.RunWhenIdle(ctx, "media-metadata", func(context.Context) error { panic("bad row") })
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad row")

	// worker survives a panicking task
	require.NoError(t, s.RunWhenIdle(ctx, "bucket-icons", func(context.Context) error { return nil }))
}

func TestFallbackWhenNotStarted(t *testing.T) {
	s := New(1)
	ran := false
	err := s.RunWhenIdle(context.Background(), "device-metadata", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.EqualValues(t, 1, s.Fallbacks())
}

func TestFallbackWhenQueueFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(1)
	s.Start(ctx)
	defer s.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = s.RunWhenIdle(ctx, "blocker", func(context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	// fills the single queue slot
	queued := make(chan error, 1)
	go func() {
		queued <- s.RunWhenIdle(ctx, "queued", func(context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return len(s.tasks) == 1 }, time.Second, time.Millisecond)

	err := s.RunWhenIdle(ctx, "overflow", func(context.Context) error { return nil })
	require.NoError(t, err)
	require.EqualValues(t, 1, s.Overflows())

	close(block)
	require.NoError(t, <-queued)
}

func TestRunWhenIdleSkipsCancelledContext(t *testing.T) {
	s := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.RunWhenIdle(ctx, "refresh", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestShutdownIsSafeConcurrently(t *testing.T) {
	s := New(1)
	s.Start(context.Background())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Shutdown()
		}()
	}
	wg.Wait()
	require.NotPanics(t, s.Shutdown)
}

func TestStartAfterShutdownUsesTheWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(1)
	s.Start(ctx)
	s.Shutdown()

	s.Start(ctx)
	defer s.Shutdown()
	require.NoError(t, s.RunWhenIdle(ctx, "refresh", func(context.Context) error { return nil }))
	require.Zero(t, s.Fallbacks())
}
