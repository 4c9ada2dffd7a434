// Package flight provides a single-flight gate with a minimum interval
// between runs. The cleanup orchestrator uses one instance for the whole
// maintenance run and another for the nested companion sync.
package flight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Decision is the outcome of TryAcquire.
type Decision int

const (
	// Run means the caller owns a new flight and must Release it.
	Run Decision = iota
	// Join means a flight is already running; wait on the returned handle.
	Join
	// Skip means the throttle window has not elapsed; nothing to wait on.
	Skip
)

func (d Decision) String() string {
	switch d {
	case Run:
		return "run"
	case Join:
		return "joined"
	case Skip:
		return "throttled"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Flight is a handle to one run. Any number of callers may wait on it.
type Flight struct {
	done      chan struct{}
	startedAt time.Time
	err       error
}

// Done is closed when the run has finished.
func (f *Flight) Done() <-chan struct{} { return f.done }

// StartedAt returns when the run was admitted.
func (f *Flight) StartedAt() time.Time { return f.startedAt }

// Err reports a panic recovered from the run body. Only valid after Done.
func (f *Flight) Err() error { return f.err }

// Wait blocks until the run finishes or ctx is done. Cancelling ctx stops
// the wait, never the run.
func (f *Flight) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// Gate admits at most one flight at a time and, unless forced, no new flight
// within minInterval of the previous start.
type Gate struct {
	name        string
	minInterval time.Duration
	now         func() time.Time

	mu             sync.Mutex
	inFlight       *Flight
	lastStartedAt  time.Time
	lastFinishedAt time.Time
}

// New creates a gate. name is used in logs and metrics.
func New(name string, minInterval time.Duration, opts ...Option) *Gate {
	g := &Gate{name: name, minInterval: minInterval, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Name() string { return g.name }

// TryAcquire decides what the caller should do. force bypasses only the
// throttle; a running flight is always joined.
func (g *Gate) TryAcquire(force bool) (Decision, *Flight) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight != nil {
		return Join, g.inFlight
	}
	now := g.now()
	if !force && !g.lastStartedAt.IsZero() && now.Sub(g.lastStartedAt) < g.minInterval {
		return Skip, nil
	}
	g.lastStartedAt = now
	g.inFlight = &Flight{done: make(chan struct{}), startedAt: now}
	return Run, g.inFlight
}

// Release finishes f. Releasing a flight that is not the current one is a no-op.
func (g *Gate) Release(f *Flight) {
	if f == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight != f {
		return
	}
	g.lastFinishedAt = g.now()
	g.inFlight = nil
	close(f.done)
}

// Do acquires the gate and, on Run, executes body in a new goroutine that is
// detached from ctx cancellation. The flight is released when body returns or
// panics. On Join the running flight is returned; on Skip the flight is nil.
func (g *Gate) Do(ctx context.Context, force bool, body func(ctx context.Context)) (Decision, *Flight) {
	decision, f := g.TryAcquire(force)
	if decision != Run {
		log.Debug("Gate not acquired", "gate", g.name, "decision", decision)
		return decision, f
	}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer g.Release(f)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("%s: panic: %v", g.name, r)
				log.Error("Recovered panic in gated run", "gate", g.name, "panic", r)
			}
		}()
		body(runCtx)
	}()
	return decision, f
}

// Current returns the running flight, or nil when the gate is idle.
func (g *Gate) Current() *Flight {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Snapshot is a read-only copy of the gate state.
type Snapshot struct {
	InFlight       bool
	LastStartedAt  time.Time
	LastFinishedAt time.Time
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		InFlight:       g.inFlight != nil,
		LastStartedAt:  g.lastStartedAt,
		LastFinishedAt: g.lastFinishedAt,
	}
}
