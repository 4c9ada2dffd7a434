// Package idle runs background work on a single low-priority lane so that
// maintenance never competes with itself for the store or the network.
package idle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const defaultQueueSize = 16

type task struct {
	ctx   context.Context
	label string
	fn    func(ctx context.Context) error
	done  chan error
}

// Scheduler owns one worker goroutine draining a bounded queue. When the
// worker is not running or the queue is full, work falls back to a
// zero-delay timer on a fresh goroutine.
type Scheduler struct {
	tasks     chan *task
	stop      chan struct{}
	workerWG  sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	overflows atomic.Int64
	fallbacks atomic.Int64
}

// New creates a scheduler with the given queue capacity.
func New(queueSize int) *Scheduler {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Scheduler{tasks: make(chan *task, queueSize)}
}

// Start launches the worker. Calling Start while running is a no-op; a
// scheduler can be started again after Shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stop = stop
	s.isRunning = true
	s.mu.Unlock()

	log.Debug("Idle scheduler: starting worker")
	s.workerWG.Add(1)
	go func() {
		defer func() {
			s.mu.Lock()
			if s.stop == stop {
				s.stop = nil
				s.isRunning = false
			}
			s.mu.Unlock()
			s.workerWG.Done()
			s.drain()
			log.Debug("Idle scheduler: worker exited")
		}()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case t := <-s.tasks:
				s.execute(t)
			}
		}
	}()
}

// Shutdown stops the worker and waits for the current task to finish.
// Tasks still queued are handed to the fallback path. Concurrent calls are
// safe.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.isRunning = false
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	s.workerWG.Wait()
}

// Overflows counts tasks that found the queue full.
func (s *Scheduler) Overflows() int64 { return s.overflows.Load() }

// Fallbacks counts tasks run through the zero-delay timer.
func (s *Scheduler) Fallbacks() int64 { return s.fallbacks.Load() }

// RunWhenIdle queues fn and waits for it. A failure (or panic) is logged as
// "Error on <label>" and returned.
func (s *Scheduler) RunWhenIdle(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	t := &task{ctx: ctx, label: label, fn: fn, done: make(chan error, 1)}
	s.submit(t)
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Yield returns after one trip through the queue, letting work queued ahead
// of the caller run first.
func (s *Scheduler) Yield(ctx context.Context) error {
	return s.RunWhenIdle(ctx, "yield", func(context.Context) error { return nil })
}

func (s *Scheduler) submit(t *task) {
	// The read lock keeps the worker from exiting between the running check
	// and the send, so drain always sees the task.
	s.mu.RLock()
	queued := false
	if s.isRunning {
		select {
		case s.tasks <- t:
			queued = true
		default:
			s.overflows.Add(1)
			log.Warn("Idle scheduler queue full, running task directly", "label", t.label)
		}
	}
	s.mu.RUnlock()
	if !queued {
		s.fallback(t)
	}
}

func (s *Scheduler) fallback(t *task) {
	s.fallbacks.Add(1)
	time.AfterFunc(0, func() { s.execute(t) })
}

// drain moves tasks left in the queue to the fallback path after the worker exits.
func (s *Scheduler) drain() {
	for {
		select {
		case t := <-s.tasks:
			s.fallback(t)
		default:
			return
		}
	}
}

func (s *Scheduler) execute(t *task) {
	var err error
	defer func() {
		t.done <- err
	}()
	if err = t.ctx.Err(); err != nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = t.fn(t.ctx)
	}()
	if err != nil {
		log.Error("Error on "+t.label, "err", err)
	}
}
