package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// BackgroundTask triggers a cleanup on a fixed period, standing in for the
// OS background-fetch callback.
type BackgroundTask struct {
	orchestrator *Orchestrator
	interval     time.Duration
	options      func() CleanupOptions
}

// NewBackgroundTask creates a task that calls options before every tick to
// build that tick's CleanupOptions. options may be nil.
func NewBackgroundTask(orchestrator *Orchestrator, interval time.Duration, options func() CleanupOptions) *BackgroundTask {
	return &BackgroundTask{orchestrator: orchestrator, interval: interval, options: options}
}

// Start runs the tick loop. Returns when ctx is cancelled.
func (t *BackgroundTask) Start(ctx context.Context) {
	if t == nil || t.orchestrator == nil || t.interval <= 0 {
		return
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *BackgroundTask) tick(ctx context.Context) {
	var opts CleanupOptions
	if t.options != nil {
		opts = t.options()
	}
	if err := t.orchestrator.Cleanup(ctx, opts); err != nil {
		log.Debug("Background task: stopped waiting for cleanup", "err", err)
	}
}
