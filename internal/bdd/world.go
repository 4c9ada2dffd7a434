// Package bdd holds the godog scenarios for the cleanup gate.
package bdd

import (
	"context"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/chirino/notification-cache/internal/flight"
	"github.com/chirino/notification-cache/internal/idle"
	"github.com/chirino/notification-cache/internal/model"
	cleanuproute "github.com/chirino/notification-cache/internal/plugin/route/cleanup"
	"github.com/chirino/notification-cache/internal/reconcile"
	"github.com/chirino/notification-cache/internal/retention"
	"github.com/chirino/notification-cache/internal/service"
	"github.com/chirino/notification-cache/internal/settings"
	"github.com/chirino/notification-cache/internal/testutil/memstore"
	"github.com/gin-gonic/gin"
)

var worldStart = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// gatedRefresher counts refreshes and blocks while release is open.
type gatedRefresher struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (r *gatedRefresher) block() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release = make(chan struct{})
}

func (r *gatedRefresher) unblock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.release != nil {
		close(r.release)
		r.release = nil
	}
}

func (r *gatedRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *gatedRefresher) RefreshAll(context.Context, bool) (reconcile.RefreshTimings, error) {
	r.mu.Lock()
	r.calls++
	release := r.release
	r.mu.Unlock()
	if release != nil {
		<-release
	}
	return reconcile.RefreshTimings{}, nil
}

type countingPruner struct {
	mu            sync.Mutex
	notifications int
	gallery       int
}

func (p *countingPruner) CleanupNotificationsBySettings(context.Context) (retention.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications++
	return retention.Result{}, nil
}

func (p *countingPruner) CleanupGalleryBySettings(context.Context) (retention.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gallery++
	return retention.Result{}, nil
}

func (p *countingPruner) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notifications, p.gallery
}

type noMedia struct{}

func (noMedia) ReloadMetadata(context.Context) error { return nil }

func (noMedia) PreloadBucketIcons(context.Context, []model.Bucket) (int, error) { return 0, nil }

// world is the per-scenario fixture: an orchestrator on a fake clock with
// counting collaborators and its management API behind an httptest server.
type world struct {
	ctx       context.Context
	clock     *clock
	settings  *settings.Service
	refresher *gatedRefresher
	pruner    *countingPruner
	scheduler *idle.Scheduler
	orch      *service.Orchestrator
	server    *httptest.Server

	mu          sync.Mutex
	flights     []*flight.Flight
	lastCleanup time.Time
}

func newWorld() (*world, error) {
	ctx := context.Background()
	w := &world{
		ctx:       ctx,
		clock:     &clock{now: worldStart},
		refresher: &gatedRefresher{},
		pruner:    &countingPruner{},
		scheduler: idle.New(16),
	}
	store := memstore.New()
	w.settings = settings.New(store, settings.RetentionPolicy{CleanupInterval: 24 * time.Hour})
	w.settings.SetClock(w.clock.Now)
	if err := w.settings.SetAuthData(ctx, model.AuthData{AccessToken: "token", DeviceID: "device-1"}); err != nil {
		return nil, err
	}
	w.scheduler.Start(ctx)

	w.orch = service.NewOrchestrator(service.Deps{
		Store:     store,
		Settings:  w.settings,
		Refresher: w.refresher,
		Retention: w.pruner,
		Media:     noMedia{},
		Scheduler: w.scheduler,
	}, service.WithClock(w.clock.Now))

	gin.SetMode(gin.TestMode)
	router := gin.New()
	cleanuproute.MountRoutes(router, w.orch, nil)
	w.server = httptest.NewServer(router)
	return w, nil
}

func (w *world) close() {
	w.refresher.unblock()
	w.server.Close()
	w.scheduler.Shutdown()
}

func (w *world) record(f *flight.Flight) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flights = append(w.flights, f)
}

func (w *world) recorded() []*flight.Flight {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*flight.Flight(nil), w.flights...)
}
