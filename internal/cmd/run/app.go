package run

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/backend"
	"github.com/chirino/notification-cache/internal/config"
	"github.com/chirino/notification-cache/internal/idle"
	"github.com/chirino/notification-cache/internal/media"
	"github.com/chirino/notification-cache/internal/metrics"
	"github.com/chirino/notification-cache/internal/model"
	storemetrics "github.com/chirino/notification-cache/internal/plugin/store/metrics"
	"github.com/chirino/notification-cache/internal/reconcile"
	registrycache "github.com/chirino/notification-cache/internal/registry/cache"
	registrymedia "github.com/chirino/notification-cache/internal/registry/media"
	registrymigrate "github.com/chirino/notification-cache/internal/registry/migrate"
	registryplatform "github.com/chirino/notification-cache/internal/registry/platform"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
	"github.com/chirino/notification-cache/internal/retention"
	"github.com/chirino/notification-cache/internal/service"
	"github.com/chirino/notification-cache/internal/settings"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/notification-cache/internal/plugin/cache/memory"
	_ "github.com/chirino/notification-cache/internal/plugin/cache/noop"
	_ "github.com/chirino/notification-cache/internal/plugin/cache/redis"
	_ "github.com/chirino/notification-cache/internal/plugin/media/fsstore"
	_ "github.com/chirino/notification-cache/internal/plugin/media/s3store"
	_ "github.com/chirino/notification-cache/internal/plugin/platform/natsbridge"
	_ "github.com/chirino/notification-cache/internal/plugin/platform/none"
	_ "github.com/chirino/notification-cache/internal/plugin/route/system"
	_ "github.com/chirino/notification-cache/internal/plugin/store/postgres"
	_ "github.com/chirino/notification-cache/internal/plugin/store/sqlite"
)

// App holds the wired cleanup pipeline and the subsystems it owns.
type App struct {
	Config       *config.Config
	Store        registrystore.LocalStore
	Cache        registrycache.NormalizedCache
	Settings     *settings.Service
	Backend      *backend.Client
	Media        *media.Manager
	Bridge       registryplatform.Bridge
	Orchestrator *service.Orchestrator

	queue     *media.DownloadQueue
	scheduler *idle.Scheduler
	rotator   service.RotateKeysFunc
	closers   []func() error
}

// Build wires every subsystem selected by cfg. Nothing runs until Start.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	ctx = config.WithContext(ctx, cfg)
	log.Info("Wiring notification cache",
		"platform", cfg.Platform,
		"db", cfg.DBKind,
		"cache", cfg.CacheType,
		"media", cfg.MediaType,
		"bridge", cfg.BridgeType,
	)

	metricsLabels, err := metrics.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	metrics.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	storeLoader, err := registrystore.Select(cfg.DBKind)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	app.closers = append(app.closers, store.Close)
	app.Store = storemetrics.Wrap(store)

	// The cache is optional; stages that publish to it skip when it is missing.
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if cache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		app.Cache = cache
		app.closers = append(app.closers, cache.Close)
	}

	mediaLoader, err := registrymedia.Select(cfg.MediaType)
	if err != nil {
		return nil, err
	}
	blobs, err := mediaLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize media store: %w", err)
	}

	app.Settings = settings.New(app.Store, settings.PolicyFromConfig(cfg))
	if err := app.Settings.MergeAuthData(ctx, model.AuthData{
		AccessToken: cfg.AccessToken,
		DeviceID:    cfg.DeviceID,
		DeviceToken: cfg.DeviceToken,
	}); err != nil {
		return nil, fmt.Errorf("failed to store device registration: %w", err)
	}

	deps := service.Deps{
		Store:         app.Store,
		Cache:         app.Cache,
		Settings:      app.Settings,
		Build:         service.BuildInfo{AppVersion: cfg.AppVersion, NativeVersion: cfg.NativeVersion},
		CompanionSync: cfg.IsIOS(),
	}

	userAgent := "notification-cache/" + cfg.AppVersion
	downloads := media.NewHTTPClient(cfg.BackendTimeout, userAgent)
	app.queue = media.NewDownloadQueue(downloads, blobs, cfg.MediaMaxSize, cfg.MediaDownloadWorkers, cfg.MediaQueueSize)
	app.Media = media.NewManager(app.Store, blobs, app.queue)
	deps.Media = app.Media

	var refresher *reconcile.Refresher
	if cfg.BackendURL != "" {
		app.Backend = backend.New(cfg.BackendURL, cfg.BackendTimeout, userAgent, app.Settings.AccessToken)
		refresher = reconcile.New(app.Store, app.Cache, app.Backend)
		deps.Device = app.Backend
		if cfg.RotateDeviceKeys {
			app.rotator = service.NewKeyRotator(app.Backend, app.Settings)
		}
	} else {
		log.Warn("No backend configured; runs will only republish the local store")
		refresher = reconcile.New(app.Store, app.Cache, nil)
	}
	refresher.SetImagePrefetcher(app.Media)
	deps.Refresher = refresher
	deps.Retention = retention.New(app.Store, app.Cache, app.Media, app.Settings)

	if cfg.IsIOS() {
		bridgeLoader, err := registryplatform.Select(cfg.BridgeType)
		if err != nil {
			return nil, err
		}
		bridge, err := bridgeLoader(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize platform bridge: %w", err)
		}
		app.Bridge = bridge
		app.closers = append(app.closers, bridge.Close)
		deps.Bridge = bridge
	}

	app.scheduler = idle.New(0)
	metrics.RegisterIdleScheduler(app.scheduler.Overflows, app.scheduler.Fallbacks)
	deps.Scheduler = app.scheduler
	app.Orchestrator = service.NewOrchestrator(deps)
	return app, nil
}

// Options returns the options daemon-triggered runs use. Key rotation is
// attached only when a backend is configured and rotation is enabled.
func (a *App) Options() service.CleanupOptions {
	return service.CleanupOptions{OnRotateDeviceKeys: a.rotator}
}

// Start launches the idle scheduler and the media download workers.
func (a *App) Start(ctx context.Context) {
	a.scheduler.Start(ctx)
	a.queue.Start(ctx)
}

// Close stops the workers and releases every subsystem in reverse order.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.queue != nil {
		a.queue.Shutdown()
	}
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
