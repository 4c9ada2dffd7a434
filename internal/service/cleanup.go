// Package service hosts the cleanup orchestrator: one gated maintenance run
// that reconciles the local cache with the backend, prunes it, and drives the
// companion-device sync.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/backend"
	"github.com/chirino/notification-cache/internal/flight"
	"github.com/chirino/notification-cache/internal/idle"
	"github.com/chirino/notification-cache/internal/metrics"
	"github.com/chirino/notification-cache/internal/model"
	"github.com/chirino/notification-cache/internal/reconcile"
	"github.com/chirino/notification-cache/internal/retention"
	registrycache "github.com/chirino/notification-cache/internal/registry/cache"
	registryplatform "github.com/chirino/notification-cache/internal/registry/platform"
	registrystore "github.com/chirino/notification-cache/internal/registry/store"
	"github.com/google/uuid"
)

const (
	// CleanupMinInterval is the throttle window of the cleanup gate.
	CleanupMinInterval = 12 * time.Second
	// CloudKitMinInterval is the throttle window of the companion-sync gate.
	CloudKitMinInterval = 45 * time.Second
	// KeyRotationInterval is how long device keys are kept before rotating.
	KeyRotationInterval = 7 * 24 * time.Hour
)

// Stage labels, in execution order.
const (
	StageLoadBuckets       = "load-buckets"
	StageLoadNotifications = "load-notifications"
	StageRefresh           = "refresh"
	StageDeviceMetadata    = "device-metadata"
	StageKeyRotation       = "key-rotation"
	StageRetention         = "retention"
	StageMediaMetadata     = "media-metadata"
	StageBucketIcons       = "bucket-icons"
	StageCompanionSync     = "companion-sync"
)

// RotateKeysFunc rotates the device's key pair. It returns false when the
// server declined the new key.
type RotateKeysFunc func(ctx context.Context) (bool, error)

// CleanupOptions are the parameters of one Cleanup call.
type CleanupOptions struct {
	// Force bypasses the throttle windows. It never starts a second run
	// while one is in flight.
	Force bool
	// SkipNetwork limits the refresh stage to republishing the local store.
	SkipNetwork bool
	// OnRotateDeviceKeys is invoked when the device keys are due for rotation.
	OnRotateDeviceKeys RotateKeysFunc
}

// Settings is the settings/auth accessor the orchestrator reads and updates.
type Settings interface {
	AuthData(ctx context.Context) (model.AuthData, error)
	HasValidAccessToken(ctx context.Context) bool
	LastKeysRotation(ctx context.Context) (time.Time, bool, error)
	SetLastKeysRotation(ctx context.Context, t time.Time) error
	ShouldRunCleanup(ctx context.Context) (bool, error)
	SetLastCleanup(ctx context.Context, t time.Time) error
}

type Refresher interface {
	RefreshAll(ctx context.Context, cacheOnly bool) (reconcile.RefreshTimings, error)
}

// DeviceRegistry is the backend surface used by the device-metadata stage.
type DeviceRegistry interface {
	ServerVersions(ctx context.Context) (*backend.ServerVersions, error)
	UpdateUserDevice(ctx context.Context, deviceID, metadata string) error
}

type Pruner interface {
	CleanupNotificationsBySettings(ctx context.Context) (retention.Result, error)
	CleanupGalleryBySettings(ctx context.Context) (retention.Result, error)
}

type MediaCache interface {
	ReloadMetadata(ctx context.Context) error
	PreloadBucketIcons(ctx context.Context, buckets []model.Bucket) (int, error)
}

// BuildInfo is the client build metadata reported to the backend.
type BuildInfo struct {
	AppVersion    string
	NativeVersion string
}

// Deps are the orchestrator's collaborators. Cache, Device and Bridge may be
// nil; the stages that need them are then no-ops.
type Deps struct {
	Store     registrystore.LocalStore
	Cache     registrycache.NormalizedCache
	Settings  Settings
	Refresher Refresher
	Device    DeviceRegistry
	Retention Pruner
	Media     MediaCache
	Bridge    registryplatform.Bridge
	Scheduler *idle.Scheduler
	Build     BuildInfo
	// CompanionSync enables stage 9. Only iOS clients have a companion device.
	CompanionSync bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for the orchestrator and both gates.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// StageResult is the outcome of one stage of a run.
type StageResult struct {
	Label    string        `json:"label"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunReport describes the most recent finished run.
type RunReport struct {
	ID          string        `json:"id"`
	Force       bool          `json:"force"`
	SkipNetwork bool          `json:"skipNetwork"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	Stages      []StageResult `json:"stages"`
}

// Failed returns the labels of the stages that failed.
func (r RunReport) Failed() []string {
	var out []string
	for _, s := range r.Stages {
		if s.Error != "" {
			out = append(out, s.Label)
		}
	}
	return out
}

// Orchestrator runs the maintenance sequence behind two gates: one for the
// whole run and one nested around the companion sync.
type Orchestrator struct {
	deps         Deps
	now          func() time.Time
	cleanupGate  *flight.Gate
	cloudKitGate *flight.Gate

	mu      sync.Mutex
	lastRun *RunReport
}

func NewOrchestrator(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{deps: deps, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.deps.Scheduler == nil {
		o.deps.Scheduler = idle.New(0)
	}
	o.cleanupGate = flight.New("cleanup", CleanupMinInterval, flight.WithClock(o.now))
	o.cloudKitGate = flight.New("cloudkit", CloudKitMinInterval, flight.WithClock(o.now))
	return o
}

// Cleanup starts a run, joins the one in flight, or returns at once when
// throttled. It returns ctx.Err() if ctx ends first; the run itself is never
// cancelled.
func (o *Orchestrator) Cleanup(ctx context.Context, opts CleanupOptions) error {
	f := o.Trigger(ctx, opts)
	if f == nil {
		return nil
	}
	return f.Wait(ctx)
}

// Trigger is the fire-and-forget form of Cleanup. It returns the handle of
// the run started or joined, or nil when throttled.
func (o *Orchestrator) Trigger(ctx context.Context, opts CleanupOptions) *flight.Flight {
	skipNetwork := opts.SkipNetwork || !o.deps.Settings.HasValidAccessToken(ctx)

	decision, f := o.cleanupGate.Do(ctx, opts.Force, func(runCtx context.Context) {
		o.run(runCtx, opts, skipNetwork)
	})
	metrics.CountGate(o.cleanupGate.Name(), decision.String())
	switch decision {
	case flight.Skip:
		log.Debug("Cleanup: throttled", "minInterval", CleanupMinInterval)
	case flight.Join:
		log.Debug("Cleanup: joining run in flight", "startedAt", f.StartedAt())
	}
	return f
}

// Drain waits for the running cleanup, if any, without starting a new one.
func (o *Orchestrator) Drain(ctx context.Context) error {
	f := o.cleanupGate.Current()
	if f == nil {
		return nil
	}
	return f.Wait(ctx)
}

// CleanupState reports the cleanup gate state.
func (o *Orchestrator) CleanupState() flight.Snapshot { return o.cleanupGate.Snapshot() }

// CompanionState reports the companion-sync gate state.
func (o *Orchestrator) CompanionState() flight.Snapshot { return o.cloudKitGate.Snapshot() }

// LastRun returns the report of the most recent finished run.
func (o *Orchestrator) LastRun() (RunReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastRun == nil {
		return RunReport{}, false
	}
	return *o.lastRun, true
}

type stage struct {
	label string
	fn    func(ctx context.Context) error
}

func (o *Orchestrator) run(ctx context.Context, opts CleanupOptions, skipNetwork bool) {
	report := &RunReport{
		ID:          uuid.NewString(),
		Force:       opts.Force,
		SkipNetwork: skipNetwork,
		StartedAt:   o.now(),
	}
	log.Info("Cleanup: starting", "run", report.ID, "force", opts.Force, "skipNetwork", skipNetwork)

	stages := []stage{
		{StageLoadBuckets, o.loadBuckets},
		{StageLoadNotifications, o.loadNotifications},
		{StageRefresh, func(ctx context.Context) error { return o.refresh(ctx, skipNetwork) }},
		{StageDeviceMetadata, o.updateDeviceMetadata},
		{StageKeyRotation, func(ctx context.Context) error { return o.rotateKeysIfDue(ctx, opts.OnRotateDeviceKeys) }},
		{StageRetention, func(ctx context.Context) error { return o.prune(ctx, opts.Force) }},
		{StageMediaMetadata, o.reloadMediaMetadata},
		{StageBucketIcons, o.preloadBucketIcons},
		{StageCompanionSync, func(ctx context.Context) error { return o.companionSync(ctx, opts.Force) }},
	}

	scheduler := o.deps.Scheduler
	for i, s := range stages {
		if i > 0 {
			_ = scheduler.Yield(ctx)
		}
		start := time.Now()
		err := scheduler.RunWhenIdle(ctx, s.label, s.fn)
		metrics.ObserveStage(s.label, start, err)
		result := StageResult{Label: s.label, Duration: time.Since(start)}
		if err != nil {
			result.Error = err.Error()
		}
		report.Stages = append(report.Stages, result)
	}

	report.FinishedAt = o.now()
	metrics.MarkCleanupCompleted(report.FinishedAt)
	o.mu.Lock()
	o.lastRun = report
	o.mu.Unlock()
	log.Info("Cleanup: completed", "run", report.ID,
		"duration", report.FinishedAt.Sub(report.StartedAt), "failed", report.Failed())
}

func (o *Orchestrator) loadBuckets(ctx context.Context) error {
	buckets, err := o.deps.Store.GetAllBuckets(ctx)
	if err != nil {
		return fmt.Errorf("load buckets: %w", err)
	}
	if o.deps.Cache == nil {
		return nil
	}
	return registrycache.PublishBuckets(ctx, o.deps.Cache, buckets)
}

func (o *Orchestrator) loadNotifications(ctx context.Context) error {
	notifications, err := o.deps.Store.GetAllNotifications(ctx)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	if o.deps.Cache == nil {
		return nil
	}
	return registrycache.PublishNotifications(ctx, o.deps.Cache, notifications)
}

func (o *Orchestrator) refresh(ctx context.Context, cacheOnly bool) error {
	timings, err := o.deps.Refresher.RefreshAll(ctx, cacheOnly)
	if err != nil {
		return err
	}
	log.Info("Cleanup: refreshed notifications", "cacheOnly", cacheOnly,
		"networkTime", timings.Network, "mergeTime", timings.Merge)
	return nil
}

func (o *Orchestrator) prune(ctx context.Context, force bool) error {
	due := force
	if !due {
		var err error
		if due, err = o.deps.Settings.ShouldRunCleanup(ctx); err != nil {
			return err
		}
	}
	if !due {
		log.Debug("Cleanup: retention not due")
		return nil
	}
	notifications, err := o.deps.Retention.CleanupNotificationsBySettings(ctx)
	if err != nil {
		return fmt.Errorf("prune notifications: %w", err)
	}
	gallery, err := o.deps.Retention.CleanupGalleryBySettings(ctx)
	if err != nil {
		return fmt.Errorf("prune gallery: %w", err)
	}
	log.Info("Cleanup: retention applied", "notifications", notifications.Total(),
		"linkedMedia", notifications.Media, "gallery", gallery.Total())
	return o.deps.Settings.SetLastCleanup(ctx, o.now())
}

func (o *Orchestrator) reloadMediaMetadata(ctx context.Context) error {
	return o.deps.Media.ReloadMetadata(ctx)
}

// preloadBucketIcons reads buckets from the cache, not the store, so it sees
// what the refresh stage just published.
func (o *Orchestrator) preloadBucketIcons(ctx context.Context) error {
	if o.deps.Cache == nil {
		return nil
	}
	buckets, _, err := registrycache.LoadBuckets(ctx, o.deps.Cache)
	if err != nil {
		return err
	}
	if len(buckets) == 0 {
		return nil
	}
	queued, err := o.deps.Media.PreloadBucketIcons(ctx, buckets)
	if err != nil {
		return err
	}
	if queued > 0 {
		log.Debug("Cleanup: queued bucket icons", "count", queued)
	}
	return nil
}
