package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chirino/notification-cache/internal/backend"
	"github.com/chirino/notification-cache/internal/idle"
	"github.com/chirino/notification-cache/internal/model"
	"github.com/chirino/notification-cache/internal/plugin/cache/memory"
	"github.com/chirino/notification-cache/internal/reconcile"
	"github.com/chirino/notification-cache/internal/retention"
	registryplatform "github.com/chirino/notification-cache/internal/registry/platform"
	"github.com/chirino/notification-cache/internal/settings"
	"github.com/chirino/notification-cache/internal/testutil/memstore"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.list() {
		if c == call {
			n++
		}
	}
	return n
}

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

type fakeRefresher struct {
	rec     *recorder
	err     error
	panics  bool
	entered chan struct{}
	release chan struct{}

	mu        sync.Mutex
	cacheOnly []bool
}

func (f *fakeRefresher) RefreshAll(_ context.Context, cacheOnly bool) (reconcile.RefreshTimings, error) {
	f.rec.add("refresh")
	f.mu.Lock()
	f.cacheOnly = append(f.cacheOnly, cacheOnly)
	f.mu.Unlock()
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	if f.panics {
		panic("refresh exploded")
	}
	return reconcile.RefreshTimings{Network: time.Millisecond, Merge: time.Millisecond}, f.err
}

func (f *fakeRefresher) modes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.cacheOnly...)
}

type fakeDevice struct {
	rec         *recorder
	versionsErr error
	mu          sync.Mutex
	deviceID    string
	metadata    string
}

func (f *fakeDevice) ServerVersions(context.Context) (*backend.ServerVersions, error) {
	f.rec.add("server-versions")
	if f.versionsErr != nil {
		return nil, f.versionsErr
	}
	return &backend.ServerVersions{BackendVersion: "1.9.0", DockerVersion: "1.9.0-docker"}, nil
}

func (f *fakeDevice) UpdateUserDevice(_ context.Context, deviceID, metadata string) error {
	f.rec.add("update-device")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceID, f.metadata = deviceID, metadata
	return nil
}

type fakePruner struct{ rec *recorder }

func (f *fakePruner) CleanupNotificationsBySettings(context.Context) (retention.Result, error) {
	f.rec.add("prune-notifications")
	return retention.Result{ByAge: 1}, nil
}

func (f *fakePruner) CleanupGalleryBySettings(context.Context) (retention.Result, error) {
	f.rec.add("prune-gallery")
	return retention.Result{}, nil
}

type fakeMedia struct {
	rec     *recorder
	mu      sync.Mutex
	buckets []model.Bucket
}

func (f *fakeMedia) ReloadMetadata(context.Context) error {
	f.rec.add("reload-media")
	return nil
}

func (f *fakeMedia) PreloadBucketIcons(_ context.Context, buckets []model.Bucket) (int, error) {
	f.rec.add("preload-icons")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = buckets
	return len(buckets), nil
}

type fakeBridge struct {
	rec             *recorder
	watchSupported  bool
	wcEnabled       bool
	cloudKitEnabled bool
	initialSynced   bool
	errs            map[string]error

	mu     sync.Mutex
	forced []bool
}

func (f *fakeBridge) op(name string) error {
	f.rec.add(name)
	return f.errs[name]
}

func (f *fakeBridge) IsWatchSupported(context.Context) (bool, error) {
	return f.watchSupported, f.op(registryplatform.OpIsWatchSupported)
}

func (f *fakeBridge) IsWCSyncEnabled(context.Context) (bool, error) {
	return f.wcEnabled, f.op(registryplatform.OpIsWCSyncEnabled)
}

func (f *fakeBridge) RetryNSENotificationsToWatch(context.Context) error {
	return f.op(registryplatform.OpRetryNSENotificationsToWatch)
}

func (f *fakeBridge) IsCloudKitEnabled(context.Context) (bool, error) {
	return f.cloudKitEnabled, f.op(registryplatform.OpIsCloudKitEnabled)
}

func (f *fakeBridge) InitializeCloudKitSchema(context.Context) error {
	return f.op(registryplatform.OpInitializeCloudKitSchema)
}

func (f *fakeBridge) SetupCloudKitSubscriptions(context.Context) error {
	return f.op(registryplatform.OpSetupCloudKitSubscriptions)
}

func (f *fakeBridge) IsInitialSyncCompleted(context.Context) (bool, error) {
	return f.initialSynced, f.op(registryplatform.OpIsInitialSyncCompleted)
}

func (f *fakeBridge) SyncFromCloudKitIncremental(_ context.Context, force bool) error {
	f.mu.Lock()
	f.forced = append(f.forced, force)
	f.mu.Unlock()
	return f.op(registryplatform.OpSyncFromCloudKitIncremental)
}

func (f *fakeBridge) RetryNSENotificationsToCloudKit(context.Context) error {
	return f.op(registryplatform.OpRetryNSENotificationsToCloudKit)
}

func (f *fakeBridge) Close() error { return nil }

type fixture struct {
	ctx       context.Context
	clock     *clock
	store     *memstore.Store
	cache     *memory.Cache
	settings  *settings.Service
	calls     *recorder
	bridgeOps *recorder
	refresher *fakeRefresher
	device    *fakeDevice
	media     *fakeMedia
	bridge    *fakeBridge
	orch      *Orchestrator
}

var fixtureStart = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

// newFixture wires an orchestrator with a registered device, one bucket with
// an icon, and the companion sync disabled. tweak may adjust the deps.
func newFixture(t *testing.T, tweak func(*fixture, *Deps)) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		ctx:       ctx,
		clock:     &clock{now: fixtureStart},
		store:     memstore.New(),
		calls:     &recorder{},
		bridgeOps: &recorder{},
	}
	var err error
	f.cache, err = memory.New(1<<20, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.cache.Close() })

	f.settings = settings.New(f.store, settings.RetentionPolicy{CleanupInterval: 24 * time.Hour})
	f.settings.SetClock(f.clock.Now)
	require.NoError(t, f.settings.SetAuthData(ctx, model.AuthData{
		AccessToken: "token",
		DeviceID:    "device-1",
		DeviceToken: "apns-token",
	}))
	require.NoError(t, f.store.UpsertBuckets(ctx, []model.Bucket{
		{ID: "b1", Name: "Alerts", IconURL: "https://cdn.example.com/b1.png"},
	}))

	f.refresher = &fakeRefresher{rec: f.calls}
	f.device = &fakeDevice{rec: f.calls}
	f.media = &fakeMedia{rec: f.calls}
	f.bridge = &fakeBridge{rec: f.bridgeOps}

	scheduler := idle.New(16)
	scheduler.Start(ctx)
	t.Cleanup(scheduler.Shutdown)

	deps := Deps{
		Store:     f.store,
		Cache:     f.cache,
		Settings:  f.settings,
		Refresher: f.refresher,
		Device:    f.device,
		Retention: &fakePruner{rec: f.calls},
		Media:     f.media,
		Bridge:    f.bridge,
		Scheduler: scheduler,
		Build:     BuildInfo{AppVersion: "3.2.1", NativeVersion: "321"},
	}
	if tweak != nil {
		tweak(f, &deps)
	}
	f.orch = NewOrchestrator(deps, WithClock(f.clock.Now))
	return f
}

func (f *fixture) lastRun(t *testing.T) RunReport {
	t.Helper()
	report, ok := f.orch.LastRun()
	require.True(t, ok, "no run recorded")
	return report
}

func stageLabels(report RunReport) []string {
	labels := make([]string, len(report.Stages))
	for i, s := range report.Stages {
		labels[i] = s.Label
	}
	return labels
}
