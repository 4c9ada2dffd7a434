package bdd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chirino/notification-cache/internal/service"
	"github.com/chirino/notification-cache/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

const settleTimeout = 5 * time.Second

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		var w *world
		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			var err error
			w, err = newWorld()
			if err != nil {
				return ctx, err
			}
			s.APIURL = w.server.URL
			return ctx, nil
		})
		ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
			if w != nil {
				w.close()
			}
			return ctx, nil
		})

		ctx.Step(`^the refresh stage is blocked$`, func() error {
			w.refresher.block()
			return nil
		})
		ctx.Step(`^the refresh stage is released$`, func() error {
			w.refresher.unblock()
			return nil
		})
		ctx.Step(`^a cleanup has completed$`, func() error {
			f := w.orch.Trigger(w.ctx, service.CleanupOptions{})
			if f == nil {
				return fmt.Errorf("cleanup was throttled")
			}
			return waitFor(f.Done())
		})
		ctx.Step(`^(\d+) (millisecond|second|hour)s? pass(?:es)?$`, func(n int, unit string) error {
			w.clock.Advance(time.Duration(n) * unitOf(unit))
			return nil
		})
		ctx.Step(`^a caller requests a (forced )?cleanup$`, func(forced string) error {
			w.record(w.orch.Trigger(w.ctx, service.CleanupOptions{Force: forced != ""}))
			return nil
		})
		ctx.Step(`^(\d+) callers request a cleanup concurrently$`, func(n int) error {
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					w.record(w.orch.Trigger(w.ctx, service.CleanupOptions{}))
				}()
			}
			wg.Wait()
			return nil
		})
		ctx.Step(`^all callers have returned$`, func() error {
			for _, f := range w.recorded() {
				if f == nil {
					continue
				}
				if err := waitFor(f.Done()); err != nil {
					return err
				}
			}
			return nil
		})
		ctx.Step(`^every caller shares one run$`, func() error {
			flights := w.recorded()
			if len(flights) == 0 {
				return fmt.Errorf("no callers recorded")
			}
			for i, f := range flights {
				if f == nil {
					return fmt.Errorf("caller %d was throttled", i)
				}
				if f != flights[0] {
					return fmt.Errorf("caller %d started a separate run", i)
				}
			}
			return nil
		})
		ctx.Step(`^the last request was throttled$`, func() error {
			flights := w.recorded()
			if len(flights) == 0 || flights[len(flights)-1] != nil {
				return fmt.Errorf("expected the last request to be throttled")
			}
			return nil
		})
		ctx.Step(`^the refresh stage ran (\d+) times?$`, func(n int) error {
			if got := w.refresher.count(); got != n {
				return fmt.Errorf("refresh ran %d times, expected %d", got, n)
			}
			return nil
		})

		ctx.Step(`^the last retention cleanup was (\d+) hours? ago$`, func(n int) error {
			w.lastCleanup = w.clock.Now().Add(-time.Duration(n) * time.Hour)
			return w.settings.SetLastCleanup(w.ctx, w.lastCleanup)
		})
		ctx.Step(`^the retention pruners ran (\d+) times?$`, func(n int) error {
			notifications, gallery := w.pruner.counts()
			if notifications != n || gallery != n {
				return fmt.Errorf("pruners ran %d/%d times, expected %d", notifications, gallery, n)
			}
			return nil
		})
		ctx.Step(`^the last retention cleanup is (unchanged|now)$`, func(which string) error {
			stored, ok, err := w.settings.LastCleanup(w.ctx)
			if err != nil {
				return err
			}
			want := w.lastCleanup
			if which == "now" {
				want = w.clock.Now()
			}
			if !ok || !stored.Equal(want) {
				return fmt.Errorf("last cleanup is %v, expected %v", stored, want)
			}
			return nil
		})
	})
}

func unitOf(unit string) time.Duration {
	switch unit {
	case "millisecond":
		return time.Millisecond
	case "hour":
		return time.Hour
	default:
		return time.Second
	}
}

func waitFor(done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-time.After(settleTimeout):
		return fmt.Errorf("run did not finish within %s", settleTimeout)
	}
}

